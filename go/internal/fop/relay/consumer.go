package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// CommandConsumer posts remote timer commands on the command channel of the
// field of play they name
type CommandConsumer struct {
	registry *fop.Registry
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   Config
}

// NewCommandConsumer binds the durable command consumer, creating the stream
// and consumer when missing
func NewCommandConsumer(ctx context.Context, js jetstream.JetStream, registry *fop.Registry, cfg Config) (*CommandConsumer, error) {
	if err := EnsureCommandStream(ctx, js, cfg); err != nil {
		return nil, fmt.Errorf("ensure command stream: %w", err)
	}

	c := &CommandConsumer{
		registry: registry,
		js:       js,
		config:   cfg,
	}
	if err := c.ensureConsumer(ctx); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return c, nil
}

func (c *CommandConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.CommandStream)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		Description:   "Field of play timer command relay",
		FilterSubject: c.config.CommandSubjectPrefix + ".>",
		// a start queued while the relay was down must not fire on boot
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.CommandStream).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.CommandStream).
			Msg("using existing JetStream consumer")
	}

	c.consumer = consumer
	return nil
}

// Start consumes commands until ctx is done
func (c *CommandConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.CommandStream).
		Msg("starting JetStream command consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("command consumer shutting down")
			return nil
		case msg := <-messageCh:
			c.processMessage(msg)
		}
	}
}

func (c *CommandConsumer) processMessage(msg jetstream.Msg) {
	err := c.Dispatch(msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, ErrBadEnvelope), errors.Is(err, fop.ErrUnknownFOP):
		// redelivery cannot fix these
		log.Warn().
			Err(err).
			Str("subject", msg.Subject()).
			Msg("dropping command")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	default:
		log.Error().
			Err(err).
			Str("subject", msg.Subject()).
			Msg("failed to process command")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

// Dispatch decodes one command envelope and posts it to its field of play
func (c *CommandConsumer) Dispatch(data []byte) error {
	ev, err := DecodeCommand(data)
	if err != nil {
		return err
	}

	f, err := c.registry.Get(ev.FOPID)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", ev.ID, err)
	}
	f.Post(ev)

	log.Info().
		Str("event_id", ev.ID.String()).
		Str("fop_id", ev.FOPID).
		Str("kind", string(ev.Kind)).
		Str("origin", string(ev.Origin)).
		Msg("remote command posted")
	return nil
}

// GetConsumerInfo returns information about the consumer
func (c *CommandConsumer) GetConsumerInfo(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return c.consumer.Info(ctx)
}
