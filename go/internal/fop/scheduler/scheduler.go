package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fieldofplay/go/internal/fop/bus"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/rs/zerolog/log"
)

// Origin marks signals raised by the scheduler
const Origin events.Origin = "scheduler"

// Target receives the deadline signals; normally the field of play's timer
type Target interface {
	TimeOver(origin events.Origin)
	InitialWarning(origin events.Origin)
	FinalWarning(origin events.Origin)
}

// Source is a notification channel the scheduler can watch
type Source interface {
	Subscribe(name string, handler func(events.Notification), opts ...bus.SubscribeOption) *bus.Subscription[events.Notification]
}

// Config holds the warning thresholds, expressed as time remaining
type Config struct {
	InitialWarning time.Duration
	FinalWarning   time.Duration
}

// DefaultConfig returns the usual competition warnings
func DefaultConfig() Config {
	return Config{
		InitialWarning: 90 * time.Second,
		FinalWarning:   30 * time.Second,
	}
}

// Scheduler turns a running countdown into real-time deadlines. The timer
// itself never ticks; the scheduler arms one-shot timers when the countdown
// starts and disarms them on any stop or set.
type Scheduler struct {
	fopID  string
	clock  clockwork.Clock
	target Target
	cfg    Config

	mu         sync.Mutex
	armed      bool
	generation uint64
	timers     []clockwork.Timer
	cancel     chan struct{}
	sub        *bus.Subscription[events.Notification]
}

// New creates a disarmed scheduler
func New(fopID string, clock clockwork.Clock, target Target, cfg Config) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		fopID:  fopID,
		clock:  clock,
		target: target,
		cfg:    cfg,
	}
}

// Attach starts watching source
func (s *Scheduler) Attach(source Source) {
	sub := source.Subscribe("scheduler:"+s.fopID, s.Handle)
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

// Detach stops watching and cancels pending deadlines
func (s *Scheduler) Detach() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.disarmLocked()
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Armed reports whether deadlines are pending
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Handle reacts to one timer notification
func (s *Scheduler) Handle(n events.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch n.Kind {
	case events.KindStartTime:
		if s.armed {
			// resync of a running timer: deadlines already set from the real start
			return
		}
		s.armLocked(n.TimeRemaining)
	case events.KindStopTime, events.KindSetTime, events.KindTimeOver:
		s.disarmLocked()
	}
}

func (s *Scheduler) armLocked(remainingMs int) {
	s.armed = true
	s.generation++
	gen := s.generation
	cancel := make(chan struct{})
	s.cancel = cancel

	remaining := time.Duration(remainingMs) * time.Millisecond
	if s.cfg.InitialWarning > 0 && remaining > s.cfg.InitialWarning {
		s.scheduleLocked(gen, cancel, remaining-s.cfg.InitialWarning, "initial_warning", s.target.InitialWarning)
	}
	if s.cfg.FinalWarning > 0 && remaining > s.cfg.FinalWarning {
		s.scheduleLocked(gen, cancel, remaining-s.cfg.FinalWarning, "final_warning", s.target.FinalWarning)
	}
	s.scheduleLocked(gen, cancel, remaining, "time_over", s.target.TimeOver)

	log.Debug().
		Str("fop_id", s.fopID).
		Dur("remaining", remaining).
		Int("timers", len(s.timers)).
		Msg("deadlines armed")
}

func (s *Scheduler) scheduleLocked(gen uint64, cancel <-chan struct{}, d time.Duration, name string, signal func(events.Origin)) {
	if d <= 0 {
		go s.fire(gen, name, signal)
		return
	}

	t := s.clock.NewTimer(d)
	s.timers = append(s.timers, t)

	go func() {
		select {
		case <-t.Chan():
			s.fire(gen, name, signal)
		case <-cancel:
		}
	}()
}

// runningTarget is implemented by targets that can tell whether the clock
// the deadlines were armed for is still running
type runningTarget interface {
	Running() bool
}

// fire raises signal unless the deadlines it belongs to were disarmed. The
// lock is held while signalling so a disarm cannot slip in between the check
// and the signal. A stop the scheduler has not been told about yet is caught
// by asking the target.
func (s *Scheduler) fire(gen uint64, name string, signal func(events.Origin)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed || gen != s.generation {
		log.Debug().Str("fop_id", s.fopID).Str("deadline", name).Msg("stale deadline ignored")
		return
	}
	if rt, ok := s.target.(runningTarget); ok && !rt.Running() {
		log.Debug().Str("fop_id", s.fopID).Str("deadline", name).Msg("deadline for a stopped clock ignored")
		return
	}

	log.Info().Str("fop_id", s.fopID).Str("deadline", name).Msg("deadline reached")
	signal(Origin)
}

func (s *Scheduler) disarmLocked() {
	if !s.armed {
		return
	}
	s.armed = false
	s.generation++
	close(s.cancel)
	for _, t := range s.timers {
		stopAndDrainTimer(t)
	}
	s.timers = nil
	log.Debug().Str("fop_id", s.fopID).Msg("deadlines disarmed")
}

// stopAndDrainTimer safely stops a timer and drains its channel
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
