package reconcile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
)

// Handler exposes manual reconciliation sweeps.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs reconcile handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconcile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sweep", h.handleSweep)
}

type sweepRequest struct {
	BatchSize  int   `json:"batch_size"`
	AfterID    int64 `json:"after_id"`
	MaxBatches int   `json:"max_batches"`
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	if req.BatchSize < 0 || req.MaxBatches < 0 || req.AfterID < 0 {
		httpx.RespondError(w, fmt.Errorf("%w: negative sweep bounds", httpx.ErrBadRequest))
		return
	}
	res, err := h.service.Sweep(r.Context(), SweepOptions{
		BatchSize:  req.BatchSize,
		AfterID:    req.AfterID,
		MaxBatches: req.MaxBatches,
	})
	if err != nil {
		h.logger.Error("reconcile sweep", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"result": res,
		"errors": httpx.ErrorStrings(res.Errors),
	})
}
