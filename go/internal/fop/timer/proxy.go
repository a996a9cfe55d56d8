package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
}

// Owner is the field of play a ProxyTimer relays for. The timer forwards the
// signals it does not handle itself.
type Owner interface {
	FOPID() string
	EmitTimeOver(origin events.Origin)
	EmitInitialWarning(origin events.Origin)
	EmitFinalWarning(origin events.Origin)
	// PostEvent publishes a domain event on the field of play's command channel
	PostEvent(ev events.FOPEvent)
}

// Publisher is the notification channel shared by every attached display.
// It stamps the per-field-of-play sequence number.
type Publisher interface {
	Publish(n events.Notification) int
}

// ProxyTimer is the single authoritative attempt clock of a field of play.
// It relays timer instructions to the displays attached to the notification
// channel and remembers remaining time between them. Elapsed time is charged
// only when the timer stops or is set; nothing ticks.
type ProxyTimer struct {
	owner     Owner
	publisher Publisher
	clock     Clock

	mu sync.Mutex
	st state
}

// NewProxyTimer creates a stopped timer with no time remaining
func NewProxyTimer(owner Owner, publisher Publisher, clock Clock) *ProxyTimer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProxyTimer{
		owner:     owner,
		publisher: publisher,
		clock:     clock,
	}
}

// SetTimeRemaining overwrites the remaining time and leaves the timer
// stopped. Any integer is accepted; a negative value is an already expired
// clock.
func (t *ProxyTimer) SetTimeRemaining(ms int) {
	t.SetTimeRemainingBy(ms, "")
}

// SetTimeRemainingBy is SetTimeRemaining on behalf of origin
func (t *ProxyTimer) SetTimeRemainingBy(ms int, origin events.Origin) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.st.running {
		t.st.reconcile(t.clock.Now())
	}
	log.Debug().
		Str("fop_id", t.owner.FOPID()).
		Int("time_remaining_ms", ms).
		Int("previous_ms", t.st.remaining).
		Msg("setting time")
	t.st.remaining = ms
	t.st.running = false
	t.publishLocked(events.KindSetTime, ms, origin)
}

// Start starts the countdown. When already running it only re-publishes
// StartTime so displays can resync; the start mark is kept.
func (t *ProxyTimer) Start() {
	t.StartBy("")
}

// StartBy is Start on behalf of origin
func (t *ProxyTimer) StartBy(origin events.Origin) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.st.running {
		t.st.startedAt = t.clock.Now()
		t.st.remainingAtLastStop = t.st.remaining
		t.st.running = true
		log.Debug().
			Str("fop_id", t.owner.FOPID()).
			Int("time_remaining_ms", t.st.remaining).
			Msg("starting time")
	} else {
		log.Debug().
			Str("fop_id", t.owner.FOPID()).
			Int("time_remaining_ms", t.st.remaining).
			Msg("already running, resyncing displays")
	}
	t.publishLocked(events.KindStartTime, t.st.remaining, origin)
}

// Stop stops the countdown. Stopping a stopped timer does nothing.
func (t *ProxyTimer) Stop() {
	t.StopBy("")
}

// StopBy is Stop on behalf of origin
func (t *ProxyTimer) StopBy(origin events.Origin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(origin)
}

// TimeOver stops the timer if needed, then tells the field of play that the
// attempt clock has elapsed.
func (t *ProxyTimer) TimeOver(origin events.Origin) {
	t.mu.Lock()
	t.stopLocked(origin)
	t.mu.Unlock()

	log.Info().
		Str("fop_id", t.owner.FOPID()).
		Str("origin", string(origin)).
		Msg("time over")

	t.owner.EmitTimeOver(origin)
	t.owner.PostEvent(events.NewFOPEvent(t.owner.FOPID(), events.FOPTimeOver, origin, t.clock.Now()))
}

// InitialWarning forwards the initial warning to the field of play
func (t *ProxyTimer) InitialWarning(origin events.Origin) {
	t.owner.EmitInitialWarning(origin)
}

// FinalWarning forwards the final warning to the field of play
func (t *ProxyTimer) FinalWarning(origin events.Origin) {
	t.owner.EmitFinalWarning(origin)
}

// TimeRemaining returns the remaining time as of the last stop, set or start.
// A running timer is not reconciled; live values come from notifications.
func (t *ProxyTimer) TimeRemaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.remaining
}

// TimeRemainingAtLastStop returns the value captured at the last stop
func (t *ProxyTimer) TimeRemainingAtLastStop() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.remainingAtLastStop
}

// Running reports whether the countdown is running
func (t *ProxyTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.running
}

// Snapshot returns a copy of the state. LiveTimeRemaining is what a display
// attaching now should show; the stored state is left untouched.
func (t *ProxyTimer) Snapshot() LiveSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.st.remaining
	if t.st.running {
		live -= int(t.clock.Now().Sub(t.st.startedAt).Milliseconds())
	}
	return LiveSnapshot{
		Snapshot:          t.st.snapshot(),
		LiveTimeRemaining: live,
	}
}

// LiveSnapshot adds the time a display should show right now
type LiveSnapshot struct {
	Snapshot
	LiveTimeRemaining int `json:"live_time_remaining_ms"`
}

func (t *ProxyTimer) stopLocked(origin events.Origin) {
	if !t.st.running {
		return
	}
	t.st.reconcile(t.clock.Now())
	t.st.remainingAtLastStop = t.st.remaining
	t.st.running = false
	log.Debug().
		Str("fop_id", t.owner.FOPID()).
		Int("time_remaining_ms", t.st.remaining).
		Msg("stopping time")
	t.publishLocked(events.KindStopTime, t.st.remaining, origin)
}

// publishLocked hands the notification to the bus while the lock is held so
// that notification order matches state order. The hand-off never blocks.
func (t *ProxyTimer) publishLocked(kind events.Kind, remaining int, origin events.Origin) {
	n := events.Notification{
		ID:            uuid.New(),
		FOPID:         t.owner.FOPID(),
		Kind:          kind,
		TimeRemaining: remaining,
		Origin:        origin,
		At:            t.clock.Now(),
	}
	t.publisher.Publish(n)
}
