package fop

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
)

func newTestFOP(t *testing.T) (*FieldOfPlay, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	f := New(Config{ID: "A", Name: "Platform A", AttemptTime: time.Minute}, clock)
	t.Cleanup(f.Close)
	return f, clock
}

func subscribe(t *testing.T, f *FieldOfPlay, name string) <-chan events.Notification {
	t.Helper()
	ch := make(chan events.Notification, 32)
	sub := f.Notifications().Subscribe(name, func(n events.Notification) { ch <- n })
	t.Cleanup(sub.Unsubscribe)
	return ch
}

func next(t *testing.T, ch <-chan events.Notification) events.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
	return events.Notification{}
}

func expect(t *testing.T, ch <-chan events.Notification, kind events.Kind, remaining int) events.Notification {
	t.Helper()
	n := next(t, ch)
	if n.Kind != kind {
		t.Fatalf("notification kind = %s, want %s", n.Kind, kind)
	}
	if n.CarriesTime() && n.TimeRemaining != remaining {
		t.Fatalf("%s carried %d, want %d", n.Kind, n.TimeRemaining, remaining)
	}
	return n
}

func TestNewSetsAttemptTime(t *testing.T) {
	f, _ := newTestFOP(t)

	if got := f.Timer().TimeRemaining(); got != 60000 {
		t.Fatalf("TimeRemaining() = %d, want 60000", got)
	}
	last := f.Snapshot().LastNotification
	if last == nil || last.Kind != events.KindSetTime || last.Seq != 1 {
		t.Fatalf("LastNotification = %+v, want SetTime seq 1", last)
	}
}

func TestCommandsDriveTimer(t *testing.T) {
	f, clock := newTestFOP(t)
	ch := subscribe(t, f, "test")

	f.Post(events.NewFOPEvent("A", events.FOPStartTime, "console", clock.Now()))
	start := expect(t, ch, events.KindStartTime, 60000)

	clock.Advance(10 * time.Second)
	f.Post(events.FOPEvent{Kind: events.FOPStopTime})
	stop := expect(t, ch, events.KindStopTime, 50000)

	if stop.Seq <= start.Seq {
		t.Fatalf("seq not increasing: start %d stop %d", start.Seq, stop.Seq)
	}
	if got := f.Timer().TimeRemainingAtLastStop(); got != 50000 {
		t.Fatalf("TimeRemainingAtLastStop() = %d, want 50000", got)
	}

	force := events.FOPEvent{Kind: events.FOPForceTime, TimeRemaining: 120000}
	f.Post(force)
	expect(t, ch, events.KindSetTime, 120000)
}

func TestTimeOverMarksAttemptExpired(t *testing.T) {
	f, clock := newTestFOP(t)
	ch := subscribe(t, f, "test")

	f.Timer().Start()
	expect(t, ch, events.KindStartTime, 60000)
	clock.Advance(61 * time.Second)

	f.Timer().TimeOver("scheduler")
	expect(t, ch, events.KindStopTime, -1000)
	over := expect(t, ch, events.KindTimeOver, 0)
	if over.Origin != "scheduler" {
		t.Fatalf("TimeOver origin = %q, want scheduler", over.Origin)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !f.TimeExpired() {
		if time.Now().After(deadline) {
			t.Fatalf("TimeExpired() never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.Handle(events.FOPEvent{Kind: events.FOPForceTime, TimeRemaining: 60000})
	if f.TimeExpired() {
		t.Fatalf("TimeExpired() still true after ForceTime")
	}
}

func TestTimeOverDomainEventIsNotSentBackToTimer(t *testing.T) {
	f, _ := newTestFOP(t)
	ch := subscribe(t, f, "test")

	f.Handle(events.FOPEvent{Kind: events.FOPTimeOver, Origin: "jury"})

	if !f.TimeExpired() {
		t.Fatalf("TimeExpired() = false after TimeOver domain event")
	}
	select {
	case n := <-ch:
		t.Fatalf("domain event produced notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWarningsReachDisplays(t *testing.T) {
	f, _ := newTestFOP(t)
	ch := subscribe(t, f, "test")

	f.Timer().InitialWarning("scheduler")
	f.Timer().FinalWarning("scheduler")
	expect(t, ch, events.KindInitialWarning, 0)
	expect(t, ch, events.KindFinalWarning, 0)

	if got := f.Timer().TimeRemaining(); got != 60000 {
		t.Fatalf("warnings changed TimeRemaining() to %d", got)
	}
}

func TestFanOutToTwoDisplays(t *testing.T) {
	f, _ := newTestFOP(t)
	left := subscribe(t, f, "left")
	right := subscribe(t, f, "right")

	f.Timer().Start()

	l := expect(t, left, events.KindStartTime, 60000)
	r := expect(t, right, events.KindStartTime, 60000)
	if l.ID != r.ID {
		t.Fatalf("displays received different notifications: %s vs %s", l.ID, r.ID)
	}
	select {
	case n := <-left:
		t.Fatalf("left received extra %+v", n)
	case n := <-right:
		t.Fatalf("right received extra %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnapshotReportsLiveTime(t *testing.T) {
	f, clock := newTestFOP(t)
	subscribe(t, f, "screen")

	f.Timer().Start()
	clock.Advance(15 * time.Second)

	s := f.Snapshot()
	if s.FOPID != "A" || s.Name != "Platform A" {
		t.Fatalf("Snapshot() identity = %s/%s", s.FOPID, s.Name)
	}
	if !s.Timer.Running || s.Timer.LiveTimeRemaining != 45000 {
		t.Fatalf("Snapshot().Timer = %+v, want running with 45000 live", s.Timer)
	}
	if s.Displays != 1 {
		t.Fatalf("Snapshot().Displays = %d, want 1", s.Displays)
	}
}

func TestRegistry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, err := NewRegistry(clock, Config{ID: "B"}, Config{ID: "A"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(r.Close)

	if ids := r.IDs(); len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Fatalf("IDs() = %v, want [A B]", ids)
	}
	f, err := r.Get("B")
	if err != nil {
		t.Fatalf("Get(B) error = %v", err)
	}
	if f.Name() != "B" || f.AttemptTime() != DefaultAttemptTime {
		t.Fatalf("defaults not applied: name %q attempt %v", f.Name(), f.AttemptTime())
	}

	if _, err := r.Get("Z"); !errors.Is(err, ErrUnknownFOP) {
		t.Fatalf("Get(Z) error = %v, want ErrUnknownFOP", err)
	}
	if _, err := r.Add(Config{ID: "A"}); err == nil {
		t.Fatalf("Add duplicate: expected error")
	}
	if _, err := r.Add(Config{}); err == nil {
		t.Fatalf("Add without id: expected error")
	}
	if got := len(r.All()); got != 2 {
		t.Fatalf("All() returned %d, want 2", got)
	}
}

func TestCommandBurstKeepsDispatcher(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := New(Config{ID: "A", AttemptTime: time.Minute, QueueSize: 1}, clock)
	t.Cleanup(f.Close)

	for i := 0; i < 5000; i++ {
		ev := events.NewFOPEvent("A", events.FOPForceTime, "console", clock.Now())
		ev.TimeRemaining = 100000 + i
		f.Post(ev)
	}
	if n := f.Commands().Len(); n != 1 {
		t.Fatalf("command subscribers = %d after burst, want 1", n)
	}

	ev := events.NewFOPEvent("A", events.FOPForceTime, "console", clock.Now())
	ev.TimeRemaining = 42
	f.Post(ev)

	deadline := time.Now().Add(5 * time.Second)
	for f.Timer().TimeRemaining() != 42 {
		if time.Now().After(deadline) {
			t.Fatalf("TimeRemaining() = %d, want 42 after the burst", f.Timer().TimeRemaining())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
