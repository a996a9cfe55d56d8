package fop

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fieldofplay/go/internal/fop/bus"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/mcdev12/fieldofplay/go/internal/fop/timer"
	"github.com/rs/zerolog/log"
)

// DefaultAttemptTime is the clock given to an athlete for an attempt
const DefaultAttemptTime = 60 * time.Second

// Config describes one competition platform
type Config struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	AttemptTime time.Duration `yaml:"attempt_time"`
	// QueueSize bounds the queue of screens that are dropped when they fall
	// behind; zero means bus.DefaultQueueSize
	QueueSize int `yaml:"queue_size"`
}

// FieldOfPlay is one competition station. It owns the authoritative athlete
// timer together with its two channels: commands (and domain events) in,
// notifications out.
type FieldOfPlay struct {
	id          string
	name        string
	attemptTime time.Duration
	clock       clockwork.Clock

	commands      *bus.Bus[events.FOPEvent]
	notifications *bus.Bus[events.Notification]
	notifier      *notifier
	athleteTimer  *timer.ProxyTimer
	dispatch      *bus.Subscription[events.FOPEvent]

	mu          sync.Mutex
	timeExpired bool
}

// New creates a field of play with its timer set to the attempt time and
// starts dispatching its command channel
func New(cfg Config, clock clockwork.Clock) *FieldOfPlay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.AttemptTime <= 0 {
		cfg.AttemptTime = DefaultAttemptTime
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	f := &FieldOfPlay{
		id:            cfg.ID,
		name:          cfg.Name,
		attemptTime:   cfg.AttemptTime,
		clock:         clock,
		commands:      bus.New[events.FOPEvent](cfg.ID+".fop", bus.WithQueueSize(cfg.QueueSize)),
		notifications: bus.New[events.Notification](cfg.ID+".ui", bus.WithQueueSize(cfg.QueueSize)),
	}
	f.notifier = &notifier{bus: f.notifications}
	f.athleteTimer = timer.NewProxyTimer(f, f.notifier, clock)
	f.athleteTimer.SetTimeRemaining(int(cfg.AttemptTime.Milliseconds()))
	f.dispatch = f.commands.Subscribe("fop:"+cfg.ID, f.Handle)

	log.Info().
		Str("fop_id", f.id).
		Str("name", f.name).
		Dur("attempt_time", f.attemptTime).
		Msg("field of play created")

	return f
}

// FOPID returns the field of play identifier
func (f *FieldOfPlay) FOPID() string {
	return f.id
}

// Name returns the display name
func (f *FieldOfPlay) Name() string {
	return f.name
}

// AttemptTime returns the configured attempt clock
func (f *FieldOfPlay) AttemptTime() time.Duration {
	return f.attemptTime
}

// Timer returns the athlete timer
func (f *FieldOfPlay) Timer() *timer.ProxyTimer {
	return f.athleteTimer
}

// Notifications returns the channel displays attach to
func (f *FieldOfPlay) Notifications() *bus.Bus[events.Notification] {
	return f.notifications
}

// Commands returns the inbound command channel
func (f *FieldOfPlay) Commands() *bus.Bus[events.FOPEvent] {
	return f.commands
}

// Post publishes an event on the command channel; it is handled
// asynchronously by the field of play's dispatcher.
func (f *FieldOfPlay) Post(ev events.FOPEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.FOPID == "" {
		ev.FOPID = f.id
	}
	if ev.At.IsZero() {
		ev.At = f.clock.Now()
	}
	f.commands.Publish(ev)
}

// PostEvent implements timer.Owner
func (f *FieldOfPlay) PostEvent(ev events.FOPEvent) {
	f.Post(ev)
}

// Handle dispatches one command or domain event synchronously
func (f *FieldOfPlay) Handle(ev events.FOPEvent) {
	log.Debug().
		Str("fop_id", f.id).
		Str("event_id", ev.ID.String()).
		Str("kind", string(ev.Kind)).
		Str("origin", string(ev.Origin)).
		Msg("handling fop event")

	switch ev.Kind {
	case events.FOPStartTime:
		f.setTimeExpired(false)
		f.athleteTimer.StartBy(ev.Origin)
	case events.FOPStopTime:
		f.athleteTimer.StopBy(ev.Origin)
	case events.FOPForceTime:
		f.setTimeExpired(false)
		f.athleteTimer.SetTimeRemainingBy(ev.TimeRemaining, ev.Origin)
	case events.FOPTimeOver:
		// Raised by the timer; the attempt clock is over for the current athlete
		f.setTimeExpired(true)
		log.Info().
			Str("fop_id", f.id).
			Str("origin", string(ev.Origin)).
			Msg("attempt clock elapsed")
	default:
		log.Warn().
			Str("fop_id", f.id).
			Str("kind", string(ev.Kind)).
			Msg("unknown fop event kind - ignoring")
	}
}

// EmitTimeOver tells every display the attempt clock is over
func (f *FieldOfPlay) EmitTimeOver(origin events.Origin) {
	f.emit(events.KindTimeOver, origin)
}

// EmitInitialWarning tells every display the initial warning was reached
func (f *FieldOfPlay) EmitInitialWarning(origin events.Origin) {
	f.emit(events.KindInitialWarning, origin)
}

// EmitFinalWarning tells every display the final warning was reached
func (f *FieldOfPlay) EmitFinalWarning(origin events.Origin) {
	f.emit(events.KindFinalWarning, origin)
}

func (f *FieldOfPlay) emit(kind events.Kind, origin events.Origin) {
	f.notifier.Publish(events.Notification{
		ID:     uuid.New(),
		FOPID:  f.id,
		Kind:   kind,
		Origin: origin,
		At:     f.clock.Now(),
	})
}

// TimeExpired reports whether the attempt clock ran out since the last
// start or set
func (f *FieldOfPlay) TimeExpired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeExpired
}

func (f *FieldOfPlay) setTimeExpired(v bool) {
	f.mu.Lock()
	f.timeExpired = v
	f.mu.Unlock()
}

// State is what a display attaching late needs to catch up
type State struct {
	FOPID            string               `json:"fop_id"`
	Name             string               `json:"name"`
	Timer            timer.LiveSnapshot   `json:"timer"`
	TimeExpired      bool                 `json:"time_expired"`
	LastNotification *events.Notification `json:"last_notification,omitempty"`
	Displays         int                  `json:"displays"`
	ServerTime       time.Time            `json:"server_time"`
}

// Snapshot returns the current state of the field of play
func (f *FieldOfPlay) Snapshot() State {
	return State{
		FOPID:            f.id,
		Name:             f.name,
		Timer:            f.athleteTimer.Snapshot(),
		TimeExpired:      f.TimeExpired(),
		LastNotification: f.notifier.last(),
		Displays:         f.notifications.Len(),
		ServerTime:       f.clock.Now(),
	}
}

// Close stops dispatching and drops every subscriber
func (f *FieldOfPlay) Close() {
	f.dispatch.Unsubscribe()
	f.commands.Close()
	f.notifications.Close()
	log.Info().Str("fop_id", f.id).Msg("field of play closed")
}

// notifier stamps the per-field-of-play sequence and remembers the last
// notification (the event monitor of the station)
type notifier struct {
	bus *bus.Bus[events.Notification]

	mu     sync.Mutex
	seq    uint64
	latest *events.Notification
}

func (n *notifier) Publish(note events.Notification) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	note.Seq = n.seq
	n.latest = &note
	return n.bus.Publish(note)
}

func (n *notifier) last() *events.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.latest == nil {
		return nil
	}
	cp := *n.latest
	return &cp
}
