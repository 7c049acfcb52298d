package procurement

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// ReceiveHook runs after a successful receipt with the products whose free
// pool grew. The jobs package enqueues auto-assignment from it.
type ReceiveHook func(r *http.Request, productIDs []int64)

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	onReceive ReceiveHook
}

// NewHandler builds Handler instance. onReceive may be nil.
func NewHandler(logger *slog.Logger, service *Service, onReceive ReceiveHook) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, onReceive: onReceive}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRegister)
	r.Get("/{poID}", h.handleGet)
	r.Post("/{poID}/receive", h.handleReceive)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	res, err := h.service.RegisterOrder(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("register purchase order", slog.String("number", in.Number), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "poID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		Order inventory.PurchaseOrder  `json:"order"`
		Lines []inventory.PurchaseLine `json:"lines"`
	}{po, lines})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "poID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Receive(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("receive purchase order", slog.Int64("purchase_order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.onReceive != nil && len(res.ProductIDs) > 0 {
		h.onReceive(r, res.ProductIDs)
	}
	httpx.JSON(w, http.StatusOK, res)
}
