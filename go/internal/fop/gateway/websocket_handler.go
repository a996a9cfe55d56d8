package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/mcdev12/fieldofplay/go/internal/fop/display"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests from screens
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          *fop.Registry
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(cm *ConnectionManager, registry *fop.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
	}
}

// HandleFOPConnection attaches a screen to one field of play:
// /ws/fop?fop_id=A&name=scoreboard[&ignore_origin=console]
func (h *WebSocketHandler) HandleFOPConnection(w http.ResponseWriter, r *http.Request) {
	fopID := r.URL.Query().Get("fop_id")
	if fopID == "" {
		http.Error(w, "fop_id is required", http.StatusBadRequest)
		return
	}

	f, err := h.registry.Get(fopID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "display"
	}
	var opts []display.AdapterOption
	if origin := r.URL.Query().Get("ignore_origin"); origin != "" {
		opts = append(opts, display.IgnoreOrigin(events.Origin(origin)))
	}

	// On failure the upgrader has already answered the request
	if _, err := h.connectionManager.UpgradeConnection(w, r, f, name, opts...); err != nil {
		log.Error().
			Err(err).
			Str("fop_id", fopID).
			Str("display", name).
			Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers websocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/fop", h.HandleFOPConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
