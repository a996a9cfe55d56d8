package gateway

import (
	"time"

	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
)

// FrameType tells a screen how to read a frame
type FrameType string

const (
	FrameTypeState FrameType = "state"
	FrameTypeTimer FrameType = "timer"
)

// TimerAction is one rendering instruction
type TimerAction string

const (
	ActionSet     TimerAction = "set"
	ActionStart   TimerAction = "start"
	ActionPause   TimerAction = "pause"
	ActionTimeUp  TimerAction = "time_up"
	ActionWarning TimerAction = "warning"
)

// Frame is the JSON document written to a display connection
type Frame struct {
	Type  FrameType   `json:"type"`
	FOPID string      `json:"fop_id"`
	State *fop.State  `json:"state,omitempty"`
	Timer *TimerFrame `json:"timer,omitempty"`
	At    time.Time   `json:"at"`
}

// TimerFrame carries one renderer call
type TimerFrame struct {
	Action        TimerAction `json:"action"`
	TimeRemaining *int        `json:"time_remaining_ms,omitempty"`
	Display       string      `json:"display,omitempty"`
	Warning       events.Kind `json:"warning,omitempty"`
}

// CommandRequest is the optional body of a timer command
type CommandRequest struct {
	TimeRemaining *int          `json:"time_remaining_ms,omitempty"`
	Origin        events.Origin `json:"origin,omitempty"`
}

// CommandResponse acknowledges an accepted command
type CommandResponse struct {
	EventID string              `json:"event_id"`
	FOPID   string              `json:"fop_id"`
	Kind    events.FOPEventKind `json:"kind"`
}

// FOPSummary is one entry of the field of play listing
type FOPSummary struct {
	FOPID         string `json:"fop_id"`
	Name          string `json:"name"`
	AttemptTimeMs int64  `json:"attempt_time_ms"`
	Running       bool   `json:"running"`
	Displays      int    `json:"displays"`
}
