package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all strategy routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategy", func(r chi.Router) {
		r.Get("/", h.HandleGetStrategy)
		r.Put("/", h.HandlePutStrategy)
	})
}
