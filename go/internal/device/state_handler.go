package device

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/config"
	"github.com/mcdev12/bluetime/go/internal/timer"
)

// StateResponse represents the timer state served over HTTP
type StateResponse struct {
	Role             Role       `json:"role"`
	Status           string     `json:"status"`
	DurationSec      float64    `json:"duration_sec"`
	ElapsedSec       float64    `json:"elapsed_sec"`
	TimeRemainingSec float64    `json:"time_remaining_sec"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	View             timer.View `json:"view"`
}

// DurationRequest is the body of POST /api/timer/duration
type DurationRequest struct {
	Duration string `json:"duration"`
}

// StateHandler exposes the controller over HTTP
type StateHandler struct {
	controller *Controller
}

func NewStateHandler(controller *Controller) *StateHandler {
	return &StateHandler{controller: controller}
}

// HandleGetState handles GET /api/timer/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeState(w, h.controller.Snapshot())
}

// HandleToggle handles POST /api/timer/toggle
func (h *StateHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := h.controller.StartStopPressed(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeState(w, s)
}

// HandleCancel handles POST /api/timer/cancel
func (h *StateHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := h.controller.CancelPressed(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeState(w, s)
}

// HandleSelectDuration handles POST /api/timer/duration
func (h *StateHandler) HandleSelectDuration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := config.ParseDuration(req.Duration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.controller.SelectDuration(r.Context(), d) {
		http.Error(w, "duration can only be changed while idle", http.StatusConflict)
		return
	}
	h.writeState(w, h.controller.Snapshot())
}

// RegisterRoutes registers timer routes with an HTTP mux
func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/timer/state", h.HandleGetState)
	mux.HandleFunc("/api/timer/toggle", h.HandleToggle)
	mux.HandleFunc("/api/timer/cancel", h.HandleCancel)
	mux.HandleFunc("/api/timer/duration", h.HandleSelectDuration)
}

func (h *StateHandler) writeState(w http.ResponseWriter, s timer.Snapshot) {
	resp := StateResponse{
		Role:             h.controller.Role(),
		Status:           string(s.Status),
		DurationSec:      s.Duration.Seconds(),
		ElapsedSec:       s.Elapsed.Seconds(),
		TimeRemainingSec: s.Remaining.Seconds(),
		View:             timer.ViewOf(s),
	}
	if !s.StartedAt.IsZero() {
		resp.StartedAt = &s.StartedAt
	}
	if !s.Deadline.IsZero() {
		resp.Deadline = &s.Deadline
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode timer state response")
	}
}

func (h *StateHandler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, timer.ErrActionNotAllowed) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.Error().Err(err).Msg("timer action failed")
	http.Error(w, "timer action failed", http.StatusInternalServerError)
}
