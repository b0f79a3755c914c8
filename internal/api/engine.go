package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/operator"
)

type engineResponse struct {
	operator.Snapshot
	Error string `json:"error,omitempty"`
}

// EngineStatus returns the engine state, the operator banner and the worn
// garments.
func (h *Handler) EngineStatus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, engineResponse{Snapshot: h.console.Snapshot()})
}

// StartEngine launches the engine and, once it is confirmed, the customer
// surface.
func (h *Handler) StartEngine(w http.ResponseWriter, r *http.Request) {
	st, err := h.console.Start(r.Context())
	resp := engineResponse{Snapshot: h.console.Snapshot()}
	if err != nil {
		resp.Error = engine.UserMessage(err)
		if !engine.IsUnreachable(err) && !engine.IsRejected(err) {
			resp.Error = err.Error()
		}
		slog.Error("Engine launch failed", "error", err, "state", st.State)
		JSON(w, http.StatusBadGateway, resp)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// StopEngine stops the engine. The engine is reported stopped even when the
// remote call fails; the failure is surfaced as a warning.
func (h *Handler) StopEngine(w http.ResponseWriter, r *http.Request) {
	_, err := h.console.Stop(r.Context())
	resp := engineResponse{Snapshot: h.console.Snapshot()}
	if err != nil {
		resp.Error = engine.UserMessage(err)
	}
	JSON(w, http.StatusOK, resp)
}
