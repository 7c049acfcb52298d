package checkout

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
)

// Handler exposes checkout over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs checkout handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers checkout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCheckout)
	r.Get("/shipping-methods", h.handleMethods)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = r.Header.Get("Idempotency-Key")
	}
	result, err := h.service.Checkout(r.Context(), req)
	if err != nil {
		h.logger.Warn("checkout rejected", slog.Int64("party_id", req.PartyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleMethods(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"methods": h.service.shipping.Methods()})
}
