package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/rs/zerolog/log"
)

// DefaultCommandOrigin is stamped on REST commands that do not name one
const DefaultCommandOrigin events.Origin = "api"

const maxCommandBody = 4 << 10

// TimerHandler serves the referee commands and the timer state over REST
type TimerHandler struct {
	registry *fop.Registry
}

// NewTimerHandler creates a new timer handler
func NewTimerHandler(registry *fop.Registry) *TimerHandler {
	return &TimerHandler{registry: registry}
}

// HandleCommand handles POST /api/fop/{fop}/timer/{action}. The command is
// posted on the field of play's command channel and applied asynchronously.
func (h *TimerHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	kind, err := events.ParseFOPEventKind(r.PathValue("action"))
	if err != nil || !kind.IsCommand() {
		http.Error(w, "action must be one of start, stop, set", http.StatusBadRequest)
		return
	}

	var req CommandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if kind == events.FOPForceTime && req.TimeRemaining == nil {
		http.Error(w, "time_remaining_ms is required", http.StatusBadRequest)
		return
	}

	origin := req.Origin
	if origin == "" {
		origin = DefaultCommandOrigin
	}
	ev := events.FOPEvent{
		ID:     uuid.New(),
		FOPID:  f.FOPID(),
		Kind:   kind,
		Origin: origin,
	}
	if req.TimeRemaining != nil {
		ev.TimeRemaining = *req.TimeRemaining
	}
	f.Post(ev)

	log.Info().
		Str("fop_id", f.FOPID()).
		Str("event_id", ev.ID.String()).
		Str("kind", string(kind)).
		Str("origin", string(origin)).
		Msg("timer command accepted")

	writeJSON(w, http.StatusAccepted, CommandResponse{
		EventID: ev.ID.String(),
		FOPID:   f.FOPID(),
		Kind:    kind,
	})
}

// HandleGetTimer handles GET /api/fop/{fop}/timer
func (h *TimerHandler) HandleGetTimer(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// HandleListFOPs handles GET /api/fops
func (h *TimerHandler) HandleListFOPs(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	out := make([]FOPSummary, 0, len(all))
	for _, f := range all {
		out = append(out, FOPSummary{
			FOPID:         f.FOPID(),
			Name:          f.Name(),
			AttemptTimeMs: f.AttemptTime().Milliseconds(),
			Running:       f.Timer().Running(),
			Displays:      f.Notifications().Len(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// RegisterRoutes registers the timer routes
func (h *TimerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/fop/{fop}/timer/{action}", h.HandleCommand)
	mux.HandleFunc("GET /api/fop/{fop}/timer", h.HandleGetTimer)
	mux.HandleFunc("GET /api/fops", h.HandleListFOPs)
}

func (h *TimerHandler) lookup(w http.ResponseWriter, r *http.Request) (*fop.FieldOfPlay, bool) {
	f, err := h.registry.Get(r.PathValue("fop"))
	if err != nil {
		if errors.Is(err, fop.ErrUnknownFOP) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, "failed to look up field of play", http.StatusInternalServerError)
		}
		return nil, false
	}
	return f, true
}
