package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// EngineStater reports the engine state for health output.
type EngineStater interface {
	State() domain.EngineState
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo   store.Repository
	engine EngineStater
}

// NewHealthHandler creates a new health handler. engine may be nil.
func NewHealthHandler(repo store.Repository, engine EngineStater) *HealthHandler {
	return &HealthHandler{repo: repo, engine: engine}
}

// Health returns the health status of the API and its dependencies. The
// engine being stopped is not a failure.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.engine != nil {
		checks["engine"] = string(h.engine.State())
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
