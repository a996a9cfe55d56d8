package display

import (
	"sync"

	"github.com/mcdev12/fieldofplay/go/internal/fop/bus"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/mcdev12/fieldofplay/go/internal/fop/timer"
	"github.com/rs/zerolog/log"
)

// Renderer draws a countdown on one screen. Values are already clamped at
// zero. Calls arrive on the adapter's subscription goroutine; a renderer that
// needs another scheduling context marshals onto it itself.
type Renderer interface {
	SetTimeRemaining(ms int)
	Start()
	Pause()
	TimeUp()
	Warning(kind events.Kind)
}

// Source is a notification channel a display can attach to
type Source interface {
	Subscribe(name string, handler func(events.Notification), opts ...bus.SubscribeOption) *bus.Subscription[events.Notification]
}

// State is the adapter's mirror of the authoritative timer
type State struct {
	TimeRemaining int  `json:"time_remaining_ms"`
	Running       bool `json:"running"`
	TimeUp        bool `json:"time_up"`
}

// TimerAdapter mirrors a field of play's timer on one screen. It owns no
// authoritative time.
type TimerAdapter struct {
	name         string
	renderer     Renderer
	ignoreOrigin events.Origin
	subOpts      []bus.SubscribeOption

	mu      sync.Mutex
	sub     *bus.Subscription[events.Notification]
	state   State
	lastSeq uint64
}

// AdapterOption configures a TimerAdapter
type AdapterOption func(*TimerAdapter)

// IgnoreOrigin drops notifications caused by origin, for screens that
// already applied their own change locally.
func IgnoreOrigin(origin events.Origin) AdapterOption {
	return func(a *TimerAdapter) {
		a.ignoreOrigin = origin
	}
}

// SubscribeWith passes opts to every subscription the adapter makes
func SubscribeWith(opts ...bus.SubscribeOption) AdapterOption {
	return func(a *TimerAdapter) {
		a.subOpts = append(a.subOpts, opts...)
	}
}

// NewTimerAdapter creates a detached adapter
func NewTimerAdapter(name string, renderer Renderer, opts ...AdapterOption) *TimerAdapter {
	a := &TimerAdapter{
		name:     name,
		renderer: renderer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach subscribes to source. Attaching an attached adapter first detaches it.
func (a *TimerAdapter) Attach(source Source) {
	a.Detach()
	sub := source.Subscribe("display:"+a.name, a.Handle, a.subOpts...)

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	log.Debug().Str("display", a.name).Msg("display attached")
}

// Detach unsubscribes. It must be called when the screen goes away.
func (a *TimerAdapter) Detach() {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		log.Debug().Str("display", a.name).Msg("display detached")
	}
}

// Attached reports whether the adapter holds a live subscription
func (a *TimerAdapter) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return false
	}
	select {
	case <-a.sub.Done():
		return false
	default:
		return true
	}
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the current subscription ends, whether by Detach or
// because the source dropped it. A detached adapter returns a closed channel.
func (a *TimerAdapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return closedDone
	}
	return a.sub.Done()
}

// Sync renders a state snapshot, used when a screen attaches mid-attempt
func (a *TimerAdapter) Sync(snap timer.LiveSnapshot, timeUp bool) {
	a.mu.Lock()
	a.state = State{
		TimeRemaining: clamp(snap.LiveTimeRemaining),
		Running:       snap.Running,
		TimeUp:        timeUp,
	}
	a.mu.Unlock()

	a.renderer.SetTimeRemaining(clamp(snap.LiveTimeRemaining))
	if snap.Running {
		a.renderer.Start()
	} else {
		a.renderer.Pause()
	}
	if timeUp {
		a.renderer.TimeUp()
	}
}

// Handle applies one notification
func (a *TimerAdapter) Handle(n events.Notification) {
	if a.ignoreOrigin != "" && n.Origin == a.ignoreOrigin {
		return
	}

	a.mu.Lock()
	if n.Seq != 0 && n.Seq <= a.lastSeq {
		// redelivery
		a.mu.Unlock()
		return
	}
	if n.Seq != 0 {
		a.lastSeq = n.Seq
	}
	switch n.Kind {
	case events.KindStartTime:
		a.state = State{TimeRemaining: clamp(n.TimeRemaining), Running: true}
	case events.KindStopTime, events.KindSetTime:
		a.state.TimeRemaining = clamp(n.TimeRemaining)
		a.state.Running = false
		if n.Kind == events.KindSetTime {
			a.state.TimeUp = false
		}
	case events.KindTimeOver:
		a.state.Running = false
		a.state.TimeUp = true
	}
	a.mu.Unlock()

	switch n.Kind {
	case events.KindStartTime:
		a.renderer.SetTimeRemaining(clamp(n.TimeRemaining))
		a.renderer.Start()
	case events.KindStopTime, events.KindSetTime:
		a.renderer.SetTimeRemaining(clamp(n.TimeRemaining))
		a.renderer.Pause()
	case events.KindTimeOver:
		a.renderer.Pause()
		a.renderer.TimeUp()
	case events.KindInitialWarning, events.KindFinalWarning:
		a.renderer.Warning(n.Kind)
	default:
		log.Warn().Str("display", a.name).Str("kind", string(n.Kind)).Msg("unknown notification kind - ignoring")
	}
}

// State returns the current mirror
func (a *TimerAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func clamp(ms int) int {
	if ms < 0 {
		return 0
	}
	return ms
}
