package adjustments

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Handler exposes the adjustment ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs adjustments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{batchID}", h.handleGet)
	r.Post("/{batchID}/apply", h.handleApply)
	r.Post("/{batchID}/reverse", h.handleReverse)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	batch, err := h.service.CreateBatch(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "batchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "batchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Apply(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("apply adjustment", slog.Int64("batch_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "batchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Reverse(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("reverse adjustment", slog.Int64("batch_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
