// Package handlers provides HTTP handlers for planning and executing rebalances.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/modules/rebalancing"
	"github.com/aristath/dynamo/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Service is the part of the rebalancing service the handlers need
type Service interface {
	Plan(ctx context.Context, req rebalancing.Request) (*rebalancing.PlanRecord, error)
	Execute(ctx context.Context, req rebalancing.Request) (*rebalancing.PlanRecord, error)
	CheckTriggers(ctx context.Context) (*rebalancing.TriggerResult, error)
	GetPlan(ctx context.Context, id string) (*rebalancing.PlanRecord, error)
	ListPlans(ctx context.Context, limit int) ([]*rebalancing.PlanRecord, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	service  Service
	decimals int32
	log      zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(service Service, decimals int32, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		decimals: decimals,
		log:      log.With().Str("handler", "rebalancing").Logger(),
	}
}

// planRequest is the body of plan and execute requests. All fields are optional.
type planRequest struct {
	TargetReserve   string `json:"target_reserve,omitempty"`
	MaxInstructions *int   `json:"max_instructions,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// HandlePlan handles POST /api/rebalancing/plan
func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	record, err := h.service.Plan(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to plan rebalance")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.present(record)})
}

// HandleExecute handles POST /api/rebalancing/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	record, err := h.service.Execute(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to execute rebalance")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.present(record)})
}

// HandleGetTriggers handles GET /api/rebalancing/triggers
func (h *Handler) HandleGetTriggers(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CheckTriggers(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check triggers")
		h.writeError(w, http.StatusInternalServerError, "Failed to check triggers")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleListPlans handles GET /api/rebalancing/plans
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	records, err := h.service.ListPlans(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list plans")
		h.writeError(w, http.StatusInternalServerError, "Failed to list plans")
		return
	}

	plans := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		plans = append(plans, h.present(record))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"plans": plans,
			"count": len(plans),
		},
	})
}

// HandleGetPlan handles GET /api/rebalancing/plans/{id}
func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, rebalancing.ErrPlanNotFound) {
			h.writeError(w, http.StatusNotFound, "Plan not found")
			return
		}
		h.log.Error().Err(err).Str("plan_id", id).Msg("Failed to get plan")
		h.writeError(w, http.StatusInternalServerError, "Failed to get plan")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.present(record)})
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (rebalancing.Request, bool) {
	var body planRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return rebalancing.Request{}, false
	}

	req := rebalancing.Request{
		MaxInstructions: body.MaxInstructions,
		Reason:          body.Reason,
	}
	if body.TargetReserve != "" {
		target, err := utils.ParseAmount(body.TargetReserve, true)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "target_reserve: "+err.Error())
			return rebalancing.Request{}, false
		}
		req.TargetReserve = target
	}
	return req, true
}

// writeServiceError maps planning errors to status codes
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case rebalancing.IsInputError(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, balancing.ErrUnreachableTarget):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg(message)
		h.writeError(w, http.StatusInternalServerError, message)
	}
}

// present adds human-readable amounts to a plan record
func (h *Handler) present(record *rebalancing.PlanRecord) map[string]interface{} {
	instructions := make([]map[string]interface{}, 0, len(record.Instructions))
	for _, ins := range record.Instructions {
		instructions = append(instructions, map[string]interface{}{
			"pool":      ins.Pool,
			"qty":       ins.Qty,
			"formatted": h.format(ins.Qty),
		})
	}

	out := map[string]interface{}{
		"id":                  record.ID,
		"status":              record.Status,
		"created_at":          record.CreatedAt.Format(time.RFC3339),
		"reserve":             record.Reserve,
		"target_reserve":      record.TargetReserve,
		"final_reserve":       record.FinalReserve,
		"final_reserve_fmt":   h.format(record.FinalReserve),
		"leftover":            record.Leftover,
		"max_instructions":    record.MaxInstructions,
		"active_instructions": record.ActiveCount(),
		"instructions":        instructions,
		"pools":               record.Pools,
	}
	if record.Reason != "" {
		out["reason"] = record.Reason
	}
	if record.ExecutedAt != nil {
		out["executed_at"] = record.ExecutedAt.Format(time.RFC3339)
	}
	return out
}

func (h *Handler) format(amount string) string {
	v, err := utils.ParseAmount(amount, true)
	if err != nil {
		return amount
	}
	return utils.FormatUnits(v, h.decimals)
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
