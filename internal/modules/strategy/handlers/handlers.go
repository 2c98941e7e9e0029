// Package handlers provides HTTP handlers for the allocation strategy.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/modules/strategy"
	"github.com/rs/zerolog"
)

// Store is the part of the strategy repository the handlers need
type Store interface {
	Get(ctx context.Context) (balancing.Strategy, error)
	Replace(ctx context.Context, s balancing.Strategy) error
	UpdatedAt(ctx context.Context) (time.Time, error)
}

// Handler handles strategy HTTP requests
type Handler struct {
	store        Store
	reserve      string
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new strategy handler. reserve is the reserve holder, which
// may not be used as a pool.
func NewHandler(store Store, reserve string, log zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		reserve: reserve,
		log:   log.With().Str("handler", "strategy").Logger(),
	}
}

// SetEventManager enables StrategyChanged events
func (h *Handler) SetEventManager(m *events.Manager) {
	h.eventManager = m
}

// HandleGetStrategy handles GET /api/strategy
func (h *Handler) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get strategy")
		h.writeError(w, http.StatusInternalServerError, "Failed to get strategy")
		return
	}

	updatedAt, err := h.store.UpdatedAt(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get strategy timestamp")
		h.writeError(w, http.StatusInternalServerError, "Failed to get strategy")
		return
	}

	h.writeStrategy(w, s, updatedAt)
}

// HandlePutStrategy handles PUT /api/strategy
func (h *Handler) HandlePutStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategy.File
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s := req.ToStrategy()
	if err := s.ValidateFor(h.reserve); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Replace(r.Context(), s); err != nil {
		if errors.Is(err, balancing.ErrInvalidStrategy) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to replace strategy")
		h.writeError(w, http.StatusInternalServerError, "Failed to replace strategy")
		return
	}

	if h.eventManager != nil {
		pools := make([]string, len(s.Pools))
		for i, p := range s.Pools {
			pools[i] = string(p)
		}
		h.eventManager.EmitData("strategy", &events.StrategyChangedData{Pools: pools})
	}

	h.writeStrategy(w, s, time.Now())
}

func (h *Handler) writeStrategy(w http.ResponseWriter, s balancing.Strategy, updatedAt time.Time) {
	var total int64
	for _, weight := range s.Weights {
		total += weight
	}

	data := map[string]interface{}{
		"pools":        strategy.FromStrategy(s).Pools,
		"total_weight": total,
		"max_pools":    balancing.MaxPools,
	}
	if !updatedAt.IsZero() {
		data["updated_at"] = updatedAt.Format(time.RFC3339)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
