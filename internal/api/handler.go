// Package api provides the operator HTTP API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/operator"
	"github.com/ashureev/tryon-orchestrator/internal/store"
	"github.com/go-chi/chi/v5"
)

// Catalog resolves garments from the product service.
type Catalog interface {
	Products(ctx context.Context) ([]domain.Garment, error)
	Product(ctx context.Context, id string) (domain.Garment, error)
}

// Handler provides the operator endpoints.
type Handler struct {
	console *operator.Console
	catalog Catalog
	repo    store.Repository
}

// NewHandler creates a new Handler. catalog may be nil, in which case
// product lookups are unavailable and selections must carry the garment.
func NewHandler(console *operator.Console, catalog Catalog, repo store.Repository) *Handler {
	return &Handler{console: console, catalog: catalog, repo: repo}
}

// RegisterRoutes registers the /api routes. limit, if non-nil, wraps the
// engine start endpoint. Stop is never throttled.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/engine", func(r chi.Router) {
			r.Get("/status", h.EngineStatus)
			r.Group(func(r chi.Router) {
				if limit != nil {
					r.Use(limit)
				}
				r.Post("/start", h.StartEngine)
			})
			r.Post("/stop", h.StopEngine)
		})

		r.Get("/products", h.ListProducts)

		r.Get("/selection", h.GetSelection)
		r.Post("/selection", h.Select)
		r.Delete("/selection/{region}", h.Deselect)

		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/analytics", h.Analytics)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// intQuery reads a positive integer query parameter clamped to upper.
func intQuery(r *http.Request, key string, fallback, upper int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return min(v, upper)
}
