package costing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
)

// Handler exposes cost preview and recompute.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs costing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers costing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders/{poID}/preview", h.handlePreview)
	r.Post("/purchase-orders/{poID}/recompute", h.handleRecomputeOrder)
	r.Post("/products/{productID}/recompute", h.handleRecomputeProduct)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "poID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bd, err := h.service.Preview(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bd)
}

func (h *Handler) handleRecomputeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "poID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecomputePurchaseOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("recompute purchase order", slog.Int64("purchase_order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRecomputeProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecomputeProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": res, "errors": httpx.ErrorStrings(res.Errors)})
}
