package bus

import (
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func expectNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := New[int]("test")
	t.Cleanup(b.Close)

	first := make(chan int, 4)
	second := make(chan int, 4)
	b.Subscribe("first", func(v int) { first <- v })
	b.Subscribe("second", func(v int) { second <- v })

	if got := b.Publish(7); got != 2 {
		t.Fatalf("Publish() delivered to %d subscribers, want 2", got)
	}
	if got := receive(t, first); got != 7 {
		t.Fatalf("first got %d want 7", got)
	}
	if got := receive(t, second); got != 7 {
		t.Fatalf("second got %d want 7", got)
	}
	expectNothing(t, first)
	expectNothing(t, second)
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	b := New[int]("test")
	t.Cleanup(b.Close)

	got := make(chan int, 100)
	b.Subscribe("ordered", func(v int) { got <- v })

	for i := 0; i < 100; i++ {
		b.Publish(i)
	}
	for i := 0; i < 100; i++ {
		if v := receive(t, got); v != i {
			t.Fatalf("delivery %d: got %d want %d", i, v, i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New[string]("test")
	t.Cleanup(b.Close)

	got := make(chan string, 4)
	sub := b.Subscribe("leaving", func(v string) { got <- v })
	b.Publish("before")
	if v := receive(t, got); v != "before" {
		t.Fatalf("got %q want before", v)
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if n := b.Len(); n != 0 {
		t.Fatalf("Len() = %d after unsubscribe, want 0", n)
	}
	if n := b.Publish("after"); n != 0 {
		t.Fatalf("Publish() delivered to %d subscribers after unsubscribe, want 0", n)
	}
	expectNothing(t, got)

	select {
	case <-sub.Done():
	default:
		t.Fatalf("Done() not closed after Unsubscribe")
	}
}

func TestSlowSubscriberSurvivesBurst(t *testing.T) {
	b := New[int]("test", WithQueueSize(1))
	t.Cleanup(b.Close)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	got := make(chan int, 2000)
	sub := b.Subscribe("dispatcher", func(v int) {
		if v == 0 {
			entered <- struct{}{}
			<-release
		}
		got <- v
	})

	b.Publish(0)
	receive(t, entered)

	done := make(chan struct{})
	go func() {
		for i := 1; i < 2000; i++ {
			b.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("Publish blocked on a slow subscriber")
	}
	close(release)

	for want := 0; want < 2000; want++ {
		if v := receive(t, got); v != want {
			t.Fatalf("delivery %d: got %d", want, v)
		}
	}
	select {
	case <-sub.Done():
		t.Fatalf("default subscriber was removed by a burst")
	default:
	}
	if n := b.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
}

func TestEvictWhenFullWithoutBlockingPublisher(t *testing.T) {
	b := New[int]("test", WithQueueSize(1))
	t.Cleanup(b.Close)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	slow := b.Subscribe("slow", func(int) {
		entered <- struct{}{}
		<-release
	}, EvictWhenFull())
	defer close(release)

	fast := make(chan int, 8)
	b.Subscribe("fast", func(v int) { fast <- v })

	b.Publish(1) // picked up by the slow handler, which then blocks
	receive(t, entered)
	b.Publish(2) // fills the slow queue

	done := make(chan struct{})
	go func() {
		b.Publish(3) // slow queue full: evicted, must not block
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("Publish blocked on a slow subscriber")
	}

	select {
	case <-slow.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("slow subscriber was not evicted")
	}
	if n := b.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
	for want := 1; want <= 3; want++ {
		if v := receive(t, fast); v != want {
			t.Fatalf("fast got %d want %d", v, want)
		}
	}
}

func TestEvictedSubscriberIsReattachedByOwner(t *testing.T) {
	b := New[int]("test", WithQueueSize(1))
	t.Cleanup(b.Close)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	got := make(chan int, 8)
	first := b.Subscribe("screen", func(v int) {
		entered <- struct{}{}
		<-release
	}, EvictWhenFull())

	reattached := make(chan struct{})
	go func() {
		<-first.Done()
		b.Subscribe("screen", func(v int) { got <- v }, EvictWhenFull())
		close(reattached)
	}()

	b.Publish(1)
	receive(t, entered)
	b.Publish(2)
	b.Publish(3) // evicts
	close(release)

	receive(t, reattached)
	b.Publish(4)
	if v := receive(t, got); v != 4 {
		t.Fatalf("reattached subscriber got %d want 4", v)
	}
}

func TestDropOldestWhenFullKeepsLatest(t *testing.T) {
	b := New[int]("test", WithQueueSize(2))
	t.Cleanup(b.Close)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	got := make(chan int, 8)
	sub := b.Subscribe("relay", func(v int) {
		if v == 0 {
			entered <- struct{}{}
			<-release
		}
		got <- v
	}, DropOldestWhenFull())

	b.Publish(0)
	receive(t, entered)
	for i := 1; i <= 5; i++ {
		if n := b.Publish(i); n != 1 {
			t.Fatalf("Publish(%d) delivered to %d, want 1", i, n)
		}
	}
	if d := sub.Dropped(); d != 3 {
		t.Fatalf("Dropped() = %d, want 3", d)
	}
	close(release)

	for _, want := range []int{0, 4, 5} {
		if v := receive(t, got); v != want {
			t.Fatalf("got %d want %d", v, want)
		}
	}
	expectNothing(t, got)
	select {
	case <-sub.Done():
		t.Fatalf("DropOldestWhenFull subscriber was removed")
	default:
	}
}

func TestPanickingHandlerKeepsReceiving(t *testing.T) {
	b := New[int]("test")
	t.Cleanup(b.Close)

	got := make(chan int, 4)
	b.Subscribe("fragile", func(v int) {
		if v == 1 {
			panic("boom")
		}
		got <- v
	})

	b.Publish(1)
	b.Publish(2)
	if v := receive(t, got); v != 2 {
		t.Fatalf("got %d want 2", v)
	}
}

func TestCloseDropsSubscribersAndPublishes(t *testing.T) {
	b := New[int]("test")
	got := make(chan int, 1)
	sub := b.Subscribe("s", func(v int) { got <- v })

	b.Close()
	b.Close()

	select {
	case <-sub.Done():
	default:
		t.Fatalf("subscription not closed by Close")
	}
	if n := b.Publish(1); n != 0 {
		t.Fatalf("Publish() on closed bus delivered to %d", n)
	}
	late := b.Subscribe("late", func(int) {})
	select {
	case <-late.Done():
	default:
		t.Fatalf("subscription on closed bus should be done")
	}
	expectNothing(t, got)
}
