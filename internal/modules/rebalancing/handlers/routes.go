package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalancing", func(r chi.Router) {
		r.Post("/plan", h.HandlePlan)
		r.Post("/execute", h.HandleExecute)
		r.Get("/triggers", h.HandleGetTriggers)
		r.Get("/plans", h.HandleListPlans)
		r.Get("/plans/{id}", h.HandleGetPlan)
	})
}
