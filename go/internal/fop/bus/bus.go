package bus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultQueueSize bounds the queue of EvictWhenFull and DropOldestWhenFull
// subscribers when no option overrides it
const DefaultQueueSize = 256

// Bus is an in-process publish/subscribe channel owned by a single context
// (one per field of play and direction). It is never process-wide.
//
// Publish hands each value to every subscriber's own queue and returns; the
// handler runs on the subscriber's dispatch goroutine. Values published by a
// single goroutine (or under a single lock) reach every subscriber in publish
// order.
//
// By default a subscriber's queue grows as needed and the subscriber is never
// dropped. Subscribers that may fall behind for good (remote screens) opt into
// a bounded queue with EvictWhenFull or DropOldestWhenFull.
type Bus[T any] struct {
	name      string
	queueSize int

	mu     sync.RWMutex
	subs   map[*Subscription[T]]bool
	closed bool
}

// Option configures a Bus
type Option func(*options)

type options struct {
	queueSize int
}

// WithQueueSize sets the queue bound of subscribers with a bounded queue
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// New creates an empty bus
func New[T any](name string, opts ...Option) *Bus[T] {
	o := options{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[T]{
		name:      name,
		queueSize: o.queueSize,
		subs:      make(map[*Subscription[T]]bool),
	}
}

// Name returns the bus name used in logs
func (b *Bus[T]) Name() string {
	return b.name
}

type overflowPolicy int

const (
	// queue grows, subscriber is kept
	overflowGrow overflowPolicy = iota
	// subscriber is removed and its Done channel closed
	overflowEvict
	// oldest queued value is discarded
	overflowDropOldest
)

// SubscribeOption configures one subscription
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	overflow overflowPolicy
}

// EvictWhenFull bounds the queue at the bus queue size and removes the
// subscriber when a publish finds it full. The owner watches Done and
// re-attaches or gives up.
func EvictWhenFull() SubscribeOption {
	return func(o *subscribeOptions) {
		o.overflow = overflowEvict
	}
}

// DropOldestWhenFull bounds the queue at the bus queue size and discards the
// oldest queued value to make room. The subscriber is kept.
func DropOldestWhenFull() SubscribeOption {
	return func(o *subscribeOptions) {
		o.overflow = overflowDropOldest
	}
}

// Subscription is a revocable registration of a handler on a bus
type Subscription[T any] struct {
	ID   uuid.UUID
	Name string

	bus      *Bus[T]
	handler  func(T)
	overflow overflowPolicy
	limit    int

	mu      sync.Mutex
	pending []T
	dropped uint64

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Subscribe registers handler and starts its dispatch goroutine. Callers must
// Unsubscribe when the subscriber goes away; the bus does not detect leaks.
func (b *Bus[T]) Subscribe(name string, handler func(T), opts ...SubscribeOption) *Subscription[T] {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	sub := &Subscription[T]{
		ID:       uuid.New(),
		Name:     name,
		bus:      b,
		handler:  handler,
		overflow: o.overflow,
		limit:    b.queueSize,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		log.Warn().Str("bus", b.name).Str("subscriber", name).Msg("subscribe on closed bus")
		return sub
	}
	b.subs[sub] = true
	total := len(b.subs)
	b.mu.Unlock()

	go sub.run()

	log.Debug().
		Str("bus", b.name).
		Str("subscriber", name).
		Str("subscription_id", sub.ID.String()).
		Int("total_subscribers", total).
		Msg("subscriber registered")

	return sub
}

// Unsubscribe removes the subscription. Values still queued are dropped.
// Safe to call more than once and from inside the handler.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.remove(s)
}

// Done is closed once the subscription has been removed, by Unsubscribe,
// by eviction or by closing the bus
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many values DropOldestWhenFull discarded
func (s *Subscription[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending returns the number of queued values not yet handled
func (s *Subscription[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Subscription[T]) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (b *Bus[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	_, exists := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()

	s.close()

	if exists {
		log.Debug().
			Str("bus", b.name).
			Str("subscriber", s.Name).
			Str("subscription_id", s.ID.String()).
			Msg("subscriber removed")
	}
}

// Publish hands v to every current subscriber and returns how many accepted
// it. It never blocks.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	// Snapshot so no lock is held while handing off
	targets := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		accepted, evict := s.offer(v)
		if accepted {
			delivered++
		}
		if evict {
			log.Warn().
				Str("bus", b.name).
				Str("subscriber", s.Name).
				Str("subscription_id", s.ID.String()).
				Int("queue_size", s.limit).
				Msg("subscriber queue full, evicting")
			b.remove(s)
		}
	}
	return delivered
}

// offer queues v according to the overflow policy
func (s *Subscription[T]) offer(v T) (accepted, evict bool) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return false, false
	default:
	}
	if s.overflow != overflowGrow && len(s.pending) >= s.limit {
		if s.overflow == overflowEvict {
			s.mu.Unlock()
			return false, true
		}
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			log.Warn().
				Str("bus", s.bus.name).
				Str("subscriber", s.Name).
				Uint64("dropped", s.dropped).
				Msg("subscriber queue full, dropping oldest")
		}
	}
	s.pending = append(s.pending, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true, false
}

// next pops the oldest queued value. It reports false once the queue is
// empty or the subscription was removed; removal wins over queued values.
func (s *Subscription[T]) next() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	select {
	case <-s.done:
		return zero, false
	default:
	}
	if len(s.pending) == 0 {
		return zero, false
	}
	v := s.pending[0]
	s.pending[0] = zero
	s.pending = s.pending[1:]
	if len(s.pending) == 0 {
		s.pending = nil
	}
	return v, true
}

// Len returns the number of current subscribers
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber; later publishes are dropped
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription[T]]bool)
	b.mu.Unlock()

	for s := range subs {
		s.close()
	}
	log.Debug().Str("bus", b.name).Int("subscribers", len(subs)).Msg("bus closed")
}

func (s *Subscription[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			v, ok := s.next()
			if !ok {
				break
			}
			s.deliver(v)
		}
	}
}

func (s *Subscription[T]) deliver(v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("bus", s.bus.name).
				Str("subscriber", s.Name).
				Str("panic", fmt.Sprint(r)).
				Msg("subscriber handler panicked")
		}
	}()
	s.handler(v)
}
