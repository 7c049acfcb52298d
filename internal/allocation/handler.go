package allocation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Handler wires HTTP endpoints for allocation runs.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	preorders *PreorderAllocator
}

// NewHandler constructs allocation handler.
func NewHandler(logger *slog.Logger, engine *Engine, preorders *PreorderAllocator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, preorders: preorders}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/auto-assign", h.handleAutoAssign)
	r.Post("/preorders/{productID}/distribute", h.handleDistribute)
	r.Post("/orders/{orderID}/release", h.handleRelease)
}

type autoAssignRequest struct {
	ProductID int64 `json:"product_id"`
	DryRun    bool  `json:"dry_run"`
	Limit     int   `json:"limit"`
}

type distributeRequest struct {
	Count *int `json:"count"`
}

func (h *Handler) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var req autoAssignRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.AutoAssign(r.Context(), AutoAssignOptions(req))
	if err != nil {
		h.logger.Error("auto-assign", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": result, "errors": httpx.ErrorStrings(result.Errors)})
}

func (h *Handler) handleDistribute(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req distributeRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.preorders.Distribute(r.Context(), DistributeInput{ProductID: productID, Count: req.Count})
	if err != nil {
		h.logger.Error("distribute preorders", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": result, "errors": httpx.ErrorStrings(result.Errors)})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathInt64(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.ReleaseOrder(r.Context(), orderID, shared.ActorFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, ErrOrderCommitted) {
			httpx.Problem(w, http.StatusConflict, "Order Committed", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// decodeOptional accepts an empty body as the zero request.
func decodeOptional(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	return nil
}
