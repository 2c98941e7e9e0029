package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all balance book routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/balances", func(r chi.Router) {
		r.Get("/", h.HandleGetBalances)
		r.Post("/deposit", h.HandleDeposit)
		r.Post("/withdraw", h.HandleWithdraw)
		r.Get("/transfers", h.HandleGetTransfers)
	})
}
