package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds the NATS JetStream settings of the relay
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration

	// Remote commands
	CommandStream        string
	CommandSubjectPrefix string
	ConsumerName         string
	MaxDeliver           int
	AckWait              time.Duration
	MaxAckPending        int

	// Notifications for remote displays
	NotificationStream        string
	NotificationSubjectPrefix string
	PublishTimeout            time.Duration
	MaxRetries                int
	RetryDelay                time.Duration

	MaxAge          time.Duration // How long to keep messages
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		URL:                       nats.DefaultURL,
		MaxReconnects:             -1, // Infinite
		ReconnectWait:             2 * time.Second,
		CommandStream:             "FOP_COMMANDS",
		CommandSubjectPrefix:      "fop.commands",
		ConsumerName:              "fop-relay",
		MaxDeliver:                5,
		AckWait:                   30 * time.Second,
		MaxAckPending:             100,
		NotificationStream:        "FOP_TIMER",
		NotificationSubjectPrefix: "fop.timer",
		PublishTimeout:            5 * time.Second,
		MaxRetries:                3,
		RetryDelay:                200 * time.Millisecond,
		MaxAge:                    24 * time.Hour,
		Replicas:                  1,
		DuplicateWindow:           2 * time.Minute,
	}
}

// Connect opens a NATS connection and its JetStream context
func Connect(cfg Config) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.Name("fop-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// EnsureCommandStream creates or updates the stream remote commands land in
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	return ensureStream(ctx, js, jetstream.StreamConfig{
		Name:        cfg.CommandStream,
		Description: "Field of play timer commands",
		Subjects:    []string{cfg.CommandSubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	})
}

// EnsureNotificationStream creates or updates the stream remote displays
// read timer notifications from
func EnsureNotificationStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	return ensureStream(ctx, js, jetstream.StreamConfig{
		Name:              cfg.NotificationStream,
		Description:       "Field of play timer notifications",
		Subjects:          []string{cfg.NotificationSubjectPrefix + ".>"},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            cfg.MaxAge,
		MaxMsgsPerSubject: 1,
		Storage:           jetstream.FileStorage,
		Replicas:          cfg.Replicas,
		Duplicates:        cfg.DuplicateWindow,
	})
}

func ensureStream(ctx context.Context, js jetstream.JetStream, sc jetstream.StreamConfig) error {
	stream, err := js.Stream(ctx, sc.Name)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream %s: %w", sc.Name, err)
		}
		log.Info().
			Str("stream", sc.Name).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream %s: %w", sc.Name, err)
		}
		log.Info().
			Str("stream", sc.Name).
			Msg("updated JetStream stream")
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgsPerSubject == b.MaxMsgsPerSubject &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
