package relay

import (
	"context"
	"fmt"

	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Relay connects the fields of play of a registry to NATS JetStream: remote
// commands in, timer notifications out
type Relay struct {
	nc        *nats.Conn
	consumer  *CommandConsumer
	publisher *NotificationPublisher
}

// New connects to NATS, prepares both streams and attaches the notification
// publisher to every field of play in registry
func New(ctx context.Context, cfg Config, registry *fop.Registry) (*Relay, error) {
	nc, js, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	if err := EnsureNotificationStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure notification stream: %w", err)
	}

	consumer, err := NewCommandConsumer(ctx, js, registry, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}

	publisher := NewNotificationPublisher(js, cfg)
	for _, f := range registry.All() {
		publisher.Attach(f)
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Strs("fops", registry.IDs()).
		Msg("relay connected")

	return &Relay{nc: nc, consumer: consumer, publisher: publisher}, nil
}

// Start consumes remote commands until ctx is done
func (r *Relay) Start(ctx context.Context) error {
	return r.consumer.Start(ctx)
}

// Close detaches the publisher and drops the NATS connection
func (r *Relay) Close() {
	log.Info().Msg("stopping relay")
	r.publisher.Close()
	if r.nc != nil {
		r.nc.Close()
	}
}
