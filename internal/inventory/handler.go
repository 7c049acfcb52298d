package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockengine/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{productID}/split", h.handleSplit)
	r.Get("/products/{productID}/summary", h.handleSummary)
	r.Get("/units/{unitID}", h.handleUnit)
}

type unitResponse struct {
	ID              int64      `json:"id"`
	ProductID       int64      `json:"product_id"`
	Status          UnitStatus `json:"status"`
	Condition       Condition  `json:"condition"`
	PurchaseCost    string     `json:"purchase_cost"`
	SoldPrice       *string    `json:"sold_price,omitempty"`
	PurchaseOrderID int64      `json:"purchase_order_id,omitempty"`
	SaleOrderID     int64      `json:"sale_order_id,omitempty"`
	SaleLineID      int64      `json:"sale_line_id,omitempty"`
	AdjustmentRef   string     `json:"adjustment_ref,omitempty"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := httpx.QueryInt(r, "qty", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cond, err := ParseCondition(r.URL.Query().Get("condition"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	availability, err := h.service.Split(r.Context(), productID, qty, cond)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	counts, err := h.service.Summary(r.Context(), productID)
	if err != nil {
		h.logger.Error("inventory summary", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "counts": counts, "total": counts.Total()})
}

func (h *Handler) handleUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := httpx.PathInt64(r, "unitID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	unit, err := h.service.Unit(r.Context(), unitID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := unitResponse{
		ID:              unit.ID,
		ProductID:       unit.ProductID,
		Status:          unit.Status,
		Condition:       unit.Condition,
		PurchaseCost:    unit.PurchaseCost.StringFixed(2),
		PurchaseOrderID: unit.PurchaseOrderID,
		SaleOrderID:     unit.SaleOrderID,
		SaleLineID:      unit.SaleLineID,
		AdjustmentRef:   unit.AdjustmentRef,
		StatusChangedAt: unit.StatusChangedAt,
	}
	if unit.SoldPrice.Valid {
		v := unit.SoldPrice.Decimal.StringFixed(2)
		resp.SoldPrice = &v
	}
	httpx.JSON(w, http.StatusOK, resp)
}
