package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/tryon-orchestrator/internal/catalog"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/go-chi/chi/v5"
)

type selectRequest struct {
	ProductID json.RawMessage `json:"product_id,omitempty"`
	Garment   *domain.Garment `json:"garment,omitempty"`
}

// ListProducts returns the outlet's garments.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		Error(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}
	garments, err := h.catalog.Products(r.Context())
	if err != nil {
		slog.Error("Failed to list products", "error", err)
		Error(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"products": garments})
}

// GetSelection returns the operator's slots.
func (h *Handler) GetSelection(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.console.Selection().Slots())
}

// Select puts a garment on and sends it to the customer surface. The body
// names either a catalog product_id or a full garment.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var g domain.Garment
	switch {
	case req.Garment != nil:
		g = *req.Garment
	case len(req.ProductID) > 0:
		id, err := productID(req.ProductID)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid product_id")
			return
		}
		if h.catalog == nil {
			Error(w, http.StatusServiceUnavailable, "catalog not configured")
			return
		}
		g, err = h.catalog.Product(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			Error(w, http.StatusNotFound, "product not found")
			return
		}
		if err != nil {
			slog.Error("Failed to resolve product", "error", err, "product_id", id)
			Error(w, http.StatusBadGateway, "catalog unavailable")
			return
		}
	default:
		Error(w, http.StatusBadRequest, "product_id or garment is required")
		return
	}

	if g.ID == "" {
		Error(w, http.StatusBadRequest, "garment id is required")
		return
	}

	region, err := h.console.Select(r.Context(), g)
	if err != nil {
		// The local slot is already updated; only the broadcast failed.
		slog.Warn("Selection not broadcast", "error", err, "garment_id", g.ID)
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"region":    region,
		"selection": h.console.Selection().Slots(),
	})
}

// Deselect clears one slot on the operator surface only.
func (h *Handler) Deselect(w http.ResponseWriter, r *http.Request) {
	region, ok := domain.ParseRegion(chi.URLParam(r, "region"))
	if !ok {
		Error(w, http.StatusBadRequest, "region must be upper or lower")
		return
	}
	cleared := h.console.Deselect(region)
	JSON(w, http.StatusOK, map[string]interface{}{
		"cleared":   cleared,
		"selection": h.console.Selection().Slots(),
	})
}

// productID accepts a numeric or string product id.
func productID(raw json.RawMessage) (string, error) {
	id, err := domain.DecodeID(raw)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("empty product id")
	}
	return id, nil
}
