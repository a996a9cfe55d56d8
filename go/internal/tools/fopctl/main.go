package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/fieldofplay/go/internal/config"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/mcdev12/fieldofplay/go/internal/fop/relay"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const (
	natsFlag    = "nats"
	fopFlag     = "fop"
	originFlag  = "origin"
	timeoutFlag = "timeout"
)

var build string
var semanticVersion = "v0.1.0-dev" + build

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	app := &cli.App{
		Name:    "fopctl",
		Usage:   "Drive field of play timers through the NATS relay",
		Version: semanticVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    natsFlag,
				Usage:   "NATS server URL",
				Value:   nats.DefaultURL,
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:     fopFlag,
				Aliases:  []string{"f"},
				Usage:    "Field of play (platform) id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  originFlag,
				Usage: "Origin stamped on the commands",
				Value: "fopctl",
			},
			&cli.DurationFlag{
				Name:  timeoutFlag,
				Usage: "How long to wait for the stream to acknowledge",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log at debug level",
			},
		},
		Before: func(cCtx *cli.Context) error {
			if cCtx.Bool("debug") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return config.ValidateID(cCtx.String(fopFlag))
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the athlete timer",
				Action: func(cCtx *cli.Context) error {
					return sendCommand(cCtx, events.FOPStartTime, 0)
				},
			},
			{
				Name:  "stop",
				Usage: "Stop the athlete timer",
				Action: func(cCtx *cli.Context) error {
					return sendCommand(cCtx, events.FOPStopTime, 0)
				},
			},
			{
				Name:      "set",
				Usage:     "Set the time remaining (stops the timer)",
				ArgsUsage: "<remaining, e.g. 60s, 1m30s or 45000>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return cli.Exit("set takes exactly one argument", 2)
					}
					ms, err := parseRemaining(cCtx.Args().First())
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					return sendCommand(cCtx, events.FOPForceTime, ms)
				},
			},
			{
				Name:   "watch",
				Usage:  "Print the timer notifications relayed for the field of play",
				Action: watch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("fopctl failed")
	}
}

func relayConfig(cCtx *cli.Context) relay.Config {
	cfg := relay.DefaultConfig()
	cfg.URL = cCtx.String(natsFlag)
	cfg.MaxReconnects = 0
	return cfg
}

func sendCommand(cCtx *cli.Context, kind events.FOPEventKind, ms int) error {
	cfg := relayConfig(cCtx)
	nc, js, err := relay.Connect(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(timeoutFlag))
	defer cancel()

	ev := events.NewFOPEvent(cCtx.String(fopFlag), kind, events.Origin(cCtx.String(originFlag)), time.Now())
	ev.TimeRemaining = ms

	seq, err := relay.NewCommandPublisher(js, cfg).Publish(ctx, ev)
	if err != nil {
		return err
	}

	log.Info().
		Str("fop_id", ev.FOPID).
		Str("kind", string(kind)).
		Str("event_id", ev.ID.String()).
		Uint64("sequence", seq).
		Msg("command sent")
	return nil
}

func watch(cCtx *cli.Context) error {
	cfg := relayConfig(cCtx)
	nc, _, err := relay.Connect(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	fopID := cCtx.String(fopFlag)
	subject := fmt.Sprintf("%s.%s.>", cfg.NotificationSubjectPrefix, fopID)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		line, err := describeNotification(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("undecodable notification")
			return
		}
		fmt.Fprintln(cCtx.App.Writer, line)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	log.Info().Str("subject", subject).Msg("watching")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	return nil
}

// describeNotification renders one relayed notification as a line of text
func describeNotification(data []byte) (string, error) {
	var env relay.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	var payload relay.NotificationPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return "", err
		}
	}

	line := fmt.Sprintf("%s #%d %-14s", env.Timestamp.Local().Format("15:04:05.000"), payload.Seq, env.EventType)
	if payload.Display != "" {
		line += " " + payload.Display
	}
	if payload.Origin != "" {
		line += " (" + string(payload.Origin) + ")"
	}
	return line, nil
}

// parseRemaining accepts a Go duration ("1m30s") or plain milliseconds
func parseRemaining(s string) (int, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time remaining %q: want a duration like 60s or milliseconds", s)
	}
	return int(d.Milliseconds()), nil
}
