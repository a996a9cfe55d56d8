package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fieldofplay/go/internal/config"
	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/mcdev12/fieldofplay/go/internal/fop/gateway"
	"github.com/mcdev12/fieldofplay/go/internal/fop/relay"
	"github.com/mcdev12/fieldofplay/go/internal/fop/scheduler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	clock := clockwork.NewRealClock()
	registry, err := fop.NewRegistry(clock, cfg.Platforms...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create fields of play")
	}
	defer registry.Close()

	// One deadline scheduler per field of play
	schedulerConfig := scheduler.Config{
		InitialWarning: cfg.InitialWarning,
		FinalWarning:   cfg.FinalWarning,
	}
	for _, f := range registry.All() {
		s := scheduler.New(f.FOPID(), clock, f.Timer(), schedulerConfig)
		s.Attach(f.Notifications())
		defer s.Detach()
	}

	log.Info().
		Strs("fops", registry.IDs()).
		Str("port", cfg.Port).
		Bool("relay", cfg.RelayEnabled).
		Msg("starting fop gateway")

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowedOrigins = cfg.AllowedOrigins
	gatewayService := gateway.NewService(gatewayConfig, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RelayEnabled {
		relayConfig := relay.DefaultConfig()
		relayConfig.URL = cfg.NATSURL
		r, err := relay.New(ctx, relayConfig, registry)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to start relay")
		}
		defer r.Close()

		go func() {
			if err := r.Start(ctx); err != nil {
				log.Error().Err(err).Msg("relay failed")
			}
		}()
	}

	server := gatewayService.NewServer(fmt.Sprintf(":%s", cfg.Port))

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stops the relay consumer and disconnects the screens
	cancel()
	if err := gatewayService.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway service stop failed")
	}

	log.Info().Msg("fop gateway shutdown complete")
}
