package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fieldofplay/go/internal/fop/display"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
)

// ErrBadEnvelope marks a message that can never be processed; it is
// terminated rather than redelivered
var ErrBadEnvelope = errors.New("bad envelope")

// Envelope is the JSON document carried by every relay message
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	FOPID     string          `json:"fopId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CommandPayload is the payload of a remote timer command
type CommandPayload struct {
	TimeRemaining *int          `json:"time_remaining_ms,omitempty"`
	Origin        events.Origin `json:"origin,omitempty"`
}

// NotificationPayload is the payload published for remote displays
type NotificationPayload struct {
	TimeRemaining *int          `json:"time_remaining_ms,omitempty"`
	Display       string        `json:"display,omitempty"`
	Origin        events.Origin `json:"origin,omitempty"`
	Seq           uint64        `json:"seq"`
}

// CommandSubject is the subject a command for fopID is published on
func CommandSubject(prefix, fopID string, kind events.FOPEventKind) string {
	return fmt.Sprintf("%s.%s.%s", prefix, fopID, kind)
}

// NotificationSubject is the subject a notification of fopID is published on
func NotificationSubject(prefix, fopID string, kind events.Kind) string {
	return fmt.Sprintf("%s.%s.%s", prefix, fopID, kind)
}

// EncodeCommand wraps a timer command in an envelope
func EncodeCommand(ev events.FOPEvent) ([]byte, error) {
	if !ev.Kind.IsCommand() {
		return nil, fmt.Errorf("%w: %s is not a command", ErrBadEnvelope, ev.Kind)
	}
	if ev.FOPID == "" {
		return nil, fmt.Errorf("%w: fop id is required", ErrBadEnvelope)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	payload := CommandPayload{Origin: ev.Origin}
	if ev.Kind == events.FOPForceTime {
		ms := ev.TimeRemaining
		payload.TimeRemaining = &ms
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal command payload: %w", err)
	}

	data, err := json.Marshal(Envelope{
		EventID:   ev.ID.String(),
		EventType: string(ev.Kind),
		FOPID:     ev.FOPID,
		Timestamp: ev.At.UTC(),
		Payload:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal command envelope: %w", err)
	}
	return data, nil
}

// DecodeCommand unwraps a timer command. Every error wraps ErrBadEnvelope.
func DecodeCommand(data []byte) (events.FOPEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.FOPEvent{}, fmt.Errorf("%w: unmarshal: %v", ErrBadEnvelope, err)
	}

	id, err := uuid.Parse(env.EventID)
	if err != nil {
		return events.FOPEvent{}, fmt.Errorf("%w: event id: %v", ErrBadEnvelope, err)
	}
	if env.FOPID == "" {
		return events.FOPEvent{}, fmt.Errorf("%w: fop id is required", ErrBadEnvelope)
	}
	kind, err := events.ParseFOPEventKind(env.EventType)
	if err != nil || !kind.IsCommand() {
		return events.FOPEvent{}, fmt.Errorf("%w: event type %q is not a timer command", ErrBadEnvelope, env.EventType)
	}

	var payload CommandPayload
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return events.FOPEvent{}, fmt.Errorf("%w: payload: %v", ErrBadEnvelope, err)
		}
	}

	ev := events.FOPEvent{
		ID:     id,
		FOPID:  env.FOPID,
		Kind:   kind,
		Origin: payload.Origin,
		At:     env.Timestamp,
	}
	if kind == events.FOPForceTime {
		if payload.TimeRemaining == nil {
			return events.FOPEvent{}, fmt.Errorf("%w: time_remaining_ms is required for %s", ErrBadEnvelope, kind)
		}
		ev.TimeRemaining = *payload.TimeRemaining
	}
	return ev, nil
}

// EncodeNotification wraps a timer notification for remote displays
func EncodeNotification(n events.Notification) ([]byte, error) {
	payload := NotificationPayload{Origin: n.Origin, Seq: n.Seq}
	if n.CarriesTime() {
		ms := n.TimeRemaining
		payload.TimeRemaining = &ms
		payload.Display = display.FormatRemaining(ms)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}

	data, err := json.Marshal(Envelope{
		EventID:   n.ID.String(),
		EventType: string(n.Kind),
		FOPID:     n.FOPID,
		Timestamp: n.At.UTC(),
		Payload:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal notification envelope: %w", err)
	}
	return data, nil
}
