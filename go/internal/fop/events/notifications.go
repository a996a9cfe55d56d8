package events

import (
	"time"

	"github.com/google/uuid"
)

// Notifications flow from a field of play's timer to every attached display.

// Kind identifies a timer notification
type Kind string

const (
	KindStartTime      Kind = "StartTime"
	KindStopTime       Kind = "StopTime"
	KindSetTime        Kind = "SetTime"
	KindTimeOver       Kind = "TimeOver"
	KindInitialWarning Kind = "InitialWarning"
	KindFinalWarning   Kind = "FinalWarning"
)

// Origin identifies who caused a state transition (a referee console, the
// deadline scheduler, a remote relay...). Empty means unknown.
type Origin string

// Notification is an immutable description of a timer state transition.
// It is passed by value; subscribers never share mutable state with the timer.
type Notification struct {
	ID            uuid.UUID `json:"id"`
	FOPID         string    `json:"fop_id"`
	Kind          Kind      `json:"kind"`
	TimeRemaining int       `json:"time_remaining_ms"`
	Origin        Origin    `json:"origin,omitempty"`
	Seq           uint64    `json:"seq"`
	At            time.Time `json:"at"`
}

// CarriesTime reports whether the notification's TimeRemaining is meaningful.
func (n Notification) CarriesTime() bool {
	switch n.Kind {
	case KindStartTime, KindStopTime, KindSetTime:
		return true
	default:
		return false
	}
}

// IsWarning reports whether the notification is one of the clock warnings.
func (n Notification) IsWarning() bool {
	return n.Kind == KindInitialWarning || n.Kind == KindFinalWarning
}
