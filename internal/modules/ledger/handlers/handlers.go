// Package handlers provides HTTP handlers for the balance book.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/modules/ledger"
	"github.com/aristath/dynamo/internal/utils"
	"github.com/rs/zerolog"
)

// Book is the part of the ledger repository the handlers need
type Book interface {
	Balances(ctx context.Context) ([]ledger.Balance, error)
	Deposit(ctx context.Context, holder string, amount *big.Int) error
	Withdraw(ctx context.Context, holder string, amount *big.Int) error
	Transfers(ctx context.Context, planID string, limit int) ([]ledger.Transfer, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	book          Book
	reserveHolder string
	decimals      int32
	eventManager  *events.Manager
	log           zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(book Book, reserveHolder string, decimals int32, log zerolog.Logger) *Handler {
	return &Handler{
		book:          book,
		reserveHolder: reserveHolder,
		decimals:      decimals,
		log:           log.With().Str("handler", "ledger").Logger(),
	}
}

// SetEventManager enables DepositProcessed and WithdrawalProcessed events
func (h *Handler) SetEventManager(m *events.Manager) {
	h.eventManager = m
}

// transferRequest is the body of deposit and withdraw requests. Exactly one of
// Amount (base units) or Units (decimal, scaled by the asset decimals) is set.
type transferRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount,omitempty"`
	Units  string `json:"units,omitempty"`
}

// HandleGetBalances handles GET /api/balances
func (h *Handler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.book.Balances(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get balances")
		h.writeError(w, http.StatusInternalServerError, "Failed to get balances")
		return
	}

	reserve := map[string]interface{}{
		"holder":    h.reserveHolder,
		"amount":    "0",
		"formatted": "0",
	}
	pools := make([]map[string]interface{}, 0, len(balances))
	for _, b := range balances {
		entry := map[string]interface{}{
			"holder":     b.Holder,
			"amount":     b.Amount.String(),
			"formatted":  utils.FormatUnits(b.Amount, h.decimals),
			"updated_at": b.UpdatedAt.Format(time.RFC3339),
		}
		if b.Holder == h.reserveHolder {
			reserve = entry
			continue
		}
		pools = append(pools, entry)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"reserve": reserve,
			"pools":   pools,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"decimals":  h.decimals,
		},
	})
}

// HandleDeposit handles POST /api/balances/deposit
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleTransfer(w, r, h.book.Deposit, "deposit")
}

// HandleWithdraw handles POST /api/balances/withdraw
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleTransfer(w, r, h.book.Withdraw, "withdraw")
}

func (h *Handler) handleTransfer(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, holder string, amount *big.Int) error,
	action string,
) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Holder == "" {
		h.writeError(w, http.StatusBadRequest, "holder is required")
		return
	}

	amount, err := h.parseAmount(req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if amount.Sign() == 0 {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := apply(r.Context(), req.Holder, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.log.Error().Err(err).Str("holder", req.Holder).Msgf("Failed to %s", action)
		h.writeError(w, http.StatusInternalServerError, "Failed to "+action)
		return
	}

	if h.eventManager != nil {
		h.eventManager.EmitData("ledger", &events.BalanceChangedData{
			Holder: req.Holder,
			Kind:   action,
			Amount: amount.String(),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"holder":    req.Holder,
			"amount":    amount.String(),
			"formatted": utils.FormatUnits(amount, h.decimals),
		},
	})
}

func (h *Handler) parseAmount(req transferRequest) (*big.Int, error) {
	switch {
	case req.Amount != "" && req.Units != "":
		return nil, errors.New("set either amount or units, not both")
	case req.Units != "":
		amount, err := utils.ParseUnits(req.Units, h.decimals)
		if err != nil {
			return nil, err
		}
		if amount.Sign() < 0 {
			return nil, errors.New("amount must be positive")
		}
		return amount, nil
	default:
		return utils.ParseAmount(req.Amount, false)
	}
}

// HandleGetTransfers handles GET /api/balances/transfers
func (h *Handler) HandleGetTransfers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	transfers, err := h.book.Transfers(r.Context(), r.URL.Query().Get("plan_id"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get transfers")
		h.writeError(w, http.StatusInternalServerError, "Failed to get transfers")
		return
	}

	items := make([]map[string]interface{}, 0, len(transfers))
	for _, t := range transfers {
		items = append(items, map[string]interface{}{
			"id":         t.ID,
			"plan_id":    t.PlanID,
			"kind":       t.Kind,
			"from":       t.From,
			"to":         t.To,
			"amount":     t.Amount.String(),
			"formatted":  utils.FormatUnits(t.Amount, h.decimals),
			"created_at": t.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"transfers": items,
			"count":     len(items),
		},
	})
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
