package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Service is the field of play gateway: screens attach over websocket and
// referee consoles drive the timers over REST
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	timerHandler      *TimerHandler
	registry          *fop.Registry
	config            Config
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// NewService creates a new gateway over the fields of play in registry
func NewService(config Config, registry *fop.Registry) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, registry),
		timerHandler:      NewTimerHandler(registry),
		registry:          registry,
		config:            config,
	}
}

// Start blocks until ctx is done, then disconnects every screen
func (s *Service) Start(ctx context.Context) error {
	log.Info().Strs("fops", s.registry.IDs()).Msg("starting fop gateway service")

	<-ctx.Done()

	log.Info().Msg("fop gateway service shutting down")
	return s.Stop()
}

// Stop disconnects every screen
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	log.Info().Msg("fop gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket, REST and health routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.timerHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.GetStats())
	})

	log.Info().Msg("fop gateway routes registered")
}

// Stats describes the running gateway
type Stats struct {
	Service string   `json:"service"`
	Status  string   `json:"status"`
	FOPs    []string `json:"fops"`
	ConnectionStats
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	return Stats{
		Service:         "fop_gateway",
		Status:          "running",
		FOPs:            s.registry.IDs(),
		ConnectionStats: s.connectionManager.GetConnectionStats(),
	}
}

// ConnectionManager returns the display connection manager
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// Handler returns the routed mux wrapped with CORS
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// NewServer builds the HTTP server for addr, speaking HTTP/2 cleartext as
// well as HTTP/1.1 for websocket upgrades
func (s *Service) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}
