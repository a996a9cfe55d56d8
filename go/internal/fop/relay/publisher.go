package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/mcdev12/fieldofplay/go/internal/fop/bus"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// StreamPublisher is the part of jetstream.JetStream the publishers use
type StreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher forwards the notifications of fields of play to
// JetStream, where remote displays (public results pages) read them.
// It is one more subscriber of each notification channel. Its queue is
// bounded and keeps the newest notifications when JetStream stalls; the
// stream only keeps the last message per subject anyway.
type NotificationPublisher struct {
	js     StreamPublisher
	config Config

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []*bus.Subscription[events.Notification]
}

// NewNotificationPublisher creates a publisher that is attached to nothing
func NewNotificationPublisher(js StreamPublisher, cfg Config) *NotificationPublisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationPublisher{js: js, config: cfg, ctx: ctx, cancel: cancel}
}

// Attach starts forwarding the notifications of f
func (p *NotificationPublisher) Attach(f *fop.FieldOfPlay) {
	sub := f.Notifications().Subscribe("relay:"+f.FOPID(), p.handle, bus.DropOldestWhenFull())

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
}

// Close detaches from every field of play and abandons pending retries
func (p *NotificationPublisher) Close() {
	p.cancel()

	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (p *NotificationPublisher) handle(n events.Notification) {
	if err := p.publishWithRetry(p.ctx, n); err != nil {
		// remote displays catch up on the next notification
		log.Error().
			Err(err).
			Str("fop_id", n.FOPID).
			Str("kind", string(n.Kind)).
			Msg("failed to relay notification")
	}
}

// publishWithRetry retries with a linearly growing delay; the notification ID
// makes a retry of a publish that did land a no-op
func (p *NotificationPublisher) publishWithRetry(ctx context.Context, n events.Notification) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
		err := p.Publish(attemptCtx, n)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("event_id", n.ID.String()).
			Int("attempt", attempt+1).
			Msg("failed to relay notification, retrying")
	}

	return fmt.Errorf("failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// Publish sends one notification; the notification ID deduplicates retries
func (p *NotificationPublisher) Publish(ctx context.Context, n events.Notification) error {
	subject := NotificationSubject(p.config.NotificationSubjectPrefix, n.FOPID, n.Kind)

	data, err := EncodeNotification(n)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(n.Kind)},
			"FOP-ID":     []string{n.FOPID},
			"Event-ID":   []string{n.ID.String()},
		},
	},
		jetstream.WithMsgID(n.ID.String()),
		jetstream.WithExpectStream(p.config.NotificationStream),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", n.ID.String()).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("published to JetStream")
	return nil
}

// CommandPublisher sends timer commands to the relay of a remote gateway
type CommandPublisher struct {
	js     StreamPublisher
	config Config
}

// NewCommandPublisher creates a command publisher
func NewCommandPublisher(js StreamPublisher, cfg Config) *CommandPublisher {
	return &CommandPublisher{js: js, config: cfg}
}

// Publish sends ev and returns the stream sequence it was stored at
func (p *CommandPublisher) Publish(ctx context.Context, ev events.FOPEvent) (uint64, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	data, err := EncodeCommand(ev)
	if err != nil {
		return 0, err
	}
	subject := CommandSubject(p.config.CommandSubjectPrefix, ev.FOPID, ev.Kind)

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Kind)},
			"FOP-ID":     []string{ev.FOPID},
			"Event-ID":   []string{ev.ID.String()},
		},
	},
		jetstream.WithMsgID(ev.ID.String()),
		jetstream.WithExpectStream(p.config.CommandStream),
	)
	if err != nil {
		return 0, fmt.Errorf("publish command: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Uint64("sequence", ack.Sequence).
		Msg("command published")
	return ack.Sequence, nil
}
