package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

const (
	defaultSessionLimit  = 50
	maxSessionLimit      = 500
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 365
)

// ListSessions returns recent try-on sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", defaultSessionLimit, maxSessionLimit)
	sessions, err := h.repo.ListSessions(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.TryOnSession{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Analytics summarises sessions over the last days.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", defaultAnalyticsDays, maxAnalyticsDays)
	summary, err := h.repo.Analytics(r.Context(), days, time.Now())
	if err != nil {
		slog.Error("Failed to compute analytics", "error", err, "days", days)
		Error(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}
	JSON(w, http.StatusOK, summary)
}
