package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FOPEventKind identifies an event on a field of play's command channel.
type FOPEventKind string

const (
	FOPStartTime FOPEventKind = "StartTime"
	FOPStopTime  FOPEventKind = "StopTime"
	FOPForceTime FOPEventKind = "ForceTime"
	// FOPTimeOver is posted by the timer itself once the attempt clock has
	// elapsed. It is a domain signal, not a request to the timer.
	FOPTimeOver FOPEventKind = "TimeOver"
)

// FOPEvent is an inbound command (or domain event) for a field of play
type FOPEvent struct {
	ID            uuid.UUID    `json:"id"`
	FOPID         string       `json:"fop_id"`
	Kind          FOPEventKind `json:"kind"`
	TimeRemaining int          `json:"time_remaining_ms,omitempty"` // ForceTime only
	Origin        Origin       `json:"origin,omitempty"`
	At            time.Time    `json:"at"`
}

// NewFOPEvent builds an event with a fresh ID
func NewFOPEvent(fopID string, kind FOPEventKind, origin Origin, at time.Time) FOPEvent {
	return FOPEvent{
		ID:     uuid.New(),
		FOPID:  fopID,
		Kind:   kind,
		Origin: origin,
		At:     at,
	}
}

// ParseFOPEventKind maps a wire name onto a command kind. Names are the kinds
// themselves plus the short forms used by the REST API and the CLI.
func ParseFOPEventKind(s string) (FOPEventKind, error) {
	switch s {
	case "StartTime", "start":
		return FOPStartTime, nil
	case "StopTime", "stop":
		return FOPStopTime, nil
	case "ForceTime", "SetTime", "set":
		return FOPForceTime, nil
	case "TimeOver":
		return FOPTimeOver, nil
	default:
		return "", fmt.Errorf("unknown fop event kind: %q", s)
	}
}

// IsCommand reports whether the kind may be requested from outside the
// field of play. TimeOver is only ever raised by the timer.
func (k FOPEventKind) IsCommand() bool {
	switch k {
	case FOPStartTime, FOPStopTime, FOPForceTime:
		return true
	default:
		return false
	}
}
