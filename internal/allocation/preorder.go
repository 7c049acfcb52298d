package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// PreorderAllocator drains the preorder queue of a product in FIFO order.
type PreorderAllocator struct {
	store    inventory.Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.EngineMetrics
	now      func() time.Time
}

// NewPreorderAllocator constructs PreorderAllocator.
func NewPreorderAllocator(store inventory.Store, logger *slog.Logger, opts ...Option) *PreorderAllocator {
	o := buildOptions(opts)
	if logger == nil {
		logger = slog.Default()
	}
	return &PreorderAllocator{store: store, notifier: o.notifier, logger: logger, metrics: o.metrics, now: o.now}
}

// DistributeInput selects the product and optionally the number of newly
// freed units. A nil Count recomputes the pool from the store.
type DistributeInput struct {
	ProductID int64
	Count     *int
}

// ReservationResult reports one reservation served by a run.
type ReservationResult struct {
	ReservationID int64   `json:"reservation_id"`
	PartyID       int64   `json:"party_id"`
	Quantity      int     `json:"quantity"`
	SaleOrderID   int64   `json:"sale_order_id"`
	SaleLineID    int64   `json:"sale_line_id"`
	RemainderID   int64   `json:"remainder_id,omitempty"`
	UnitIDs       []int64 `json:"unit_ids"`
}

// DistributeResult summarises a preorder run.
type DistributeResult struct {
	ProductID     int64               `json:"product_id"`
	PoolSize      int                 `json:"pool_size"`
	UnitsAssigned int                 `json:"units_assigned"`
	Reservations  []ReservationResult `json:"reservations"`
	Errors        []error             `json:"-"`
}

var preorderPool = []inventory.UnitStatus{inventory.StatusAvailable, inventory.StatusInTransit}

// Distribute assigns free units to pending reservations strictly by
// (reserved_at, id). A partially served reservation keeps the fulfilled
// quantity and a new pending remainder takes its queue position.
func (p *PreorderAllocator) Distribute(ctx context.Context, in DistributeInput) (DistributeResult, error) {
	if in.ProductID == 0 {
		return DistributeResult{}, shared.Validationf("allocation: product required")
	}
	if in.Count != nil && *in.Count < 0 {
		return DistributeResult{}, shared.Validationf("allocation: count must not be negative")
	}
	result := DistributeResult{ProductID: in.ProductID}
	err := p.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		result.PoolSize = 0
		result.UnitsAssigned = 0
		result.Reservations = nil

		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		queue, err := tx.LockPendingReservations(ctx, in.ProductID)
		if err != nil {
			return err
		}
		demand := 0
		for _, r := range queue {
			demand += r.Quantity
		}
		if demand == 0 {
			return nil
		}
		limit := demand
		if in.Count != nil && *in.Count < limit {
			limit = *in.Count
		}
		if limit == 0 {
			return nil
		}
		pool, err := tx.LockFreeUnits(ctx, inventory.UnitQuery{ProductID: in.ProductID, Statuses: preorderPool, Limit: limit})
		if err != nil {
			return err
		}
		result.PoolSize = len(pool)

		now := p.now()
		for _, r := range queue {
			if len(pool) == 0 {
				break
			}
			served, err := p.serve(ctx, tx, product, r, pool, now)
			if err != nil {
				return fmt.Errorf("reservation %d: %w", r.ID, err)
			}
			pool = pool[len(served.UnitIDs):]
			result.UnitsAssigned += len(served.UnitIDs)
			result.Reservations = append(result.Reservations, served)
		}
		return nil
	})
	if err != nil {
		return DistributeResult{}, fmt.Errorf("allocation: distribute preorders for product %d: %w", in.ProductID, err)
	}

	p.metrics.UnitsReserved(string(inventory.SourcePreorder), result.UnitsAssigned)
	for _, r := range result.Reservations {
		err := p.notifier.NotifyAssignment(ctx, Assignment{
			SaleOrderID: r.SaleOrderID,
			SaleLineID:  r.SaleLineID,
			ProductID:   in.ProductID,
			PartyID:     r.PartyID,
			UnitIDs:     r.UnitIDs,
			Source:      inventory.SourcePreorder,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("notify reservation %d: %w", r.ReservationID, err))
		}
	}
	if result.UnitsAssigned > 0 {
		p.logger.Info("preorders distributed",
			slog.Int64("product_id", in.ProductID),
			slog.Int("units", result.UnitsAssigned),
			slog.Int("reservations", len(result.Reservations)))
	}
	return result, nil
}

func (p *PreorderAllocator) serve(ctx context.Context, tx inventory.Tx, product inventory.Product, r inventory.PreorderReservation, pool []inventory.Unit, now time.Time) (ReservationResult, error) {
	fulfill := r.Quantity
	if len(pool) < fulfill {
		fulfill = len(pool)
	}
	out := ReservationResult{ReservationID: r.ID, PartyID: r.PartyID, Quantity: fulfill}

	if fulfill < r.Quantity {
		remainder, err := tx.InsertReservation(ctx, inventory.PreorderReservation{
			ProductID:   r.ProductID,
			PartyID:     r.PartyID,
			Quantity:    r.Quantity - fulfill,
			Status:      inventory.ReservationPending,
			ReservedAt:  r.ReservedAt,
			SaleOrderID: r.SaleOrderID,
			SaleLineID:  r.SaleLineID,
			ParentID:    r.ID,
		})
		if err != nil {
			return ReservationResult{}, err
		}
		out.RemainderID = remainder.ID
		r.Quantity = fulfill
	}

	if r.SaleLineID == 0 {
		order, line, err := openPreorderOrder(ctx, tx, product, r.PartyID, fulfill)
		if err != nil {
			return ReservationResult{}, err
		}
		r.SaleOrderID = order.ID
		r.SaleLineID = line.ID
	}

	demand := inventory.SaleDemand{OrderID: r.SaleOrderID, LineID: r.SaleLineID}
	ids, err := inventory.ReserveUnits(ctx, tx, pool[:fulfill], demand, inventory.SourcePreorder, now)
	if err != nil {
		return ReservationResult{}, err
	}
	r.Status = inventory.ReservationAssigned
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return ReservationResult{}, err
	}
	err = tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   "preorder.assigned",
		Entity:   "preorder_reservation",
		EntityID: fmt.Sprint(r.ID),
		Meta: map[string]any{
			"quantity":      fulfill,
			"sale_order_id": r.SaleOrderID,
			"remainder_id":  out.RemainderID,
		},
		At: now,
	})
	if err != nil {
		return ReservationResult{}, err
	}
	out.SaleOrderID = r.SaleOrderID
	out.SaleLineID = r.SaleLineID
	out.UnitIDs = ids
	return out, nil
}

// openPreorderOrder creates the pending sale order that receives units for a
// reservation placed without one.
func openPreorderOrder(ctx context.Context, tx inventory.Tx, product inventory.Product, partyID int64, qty int) (inventory.SaleOrder, inventory.SaleLine, error) {
	total := product.Price.Mul(decimal.NewFromInt(int64(qty)))
	order, err := tx.InsertSaleOrder(ctx, inventory.SaleOrder{
		Number:   inventory.NewReference("SO"),
		PartyID:  partyID,
		Status:   inventory.SalePending,
		Subtotal: total,
		Total:    total,
	})
	if err != nil {
		return inventory.SaleOrder{}, inventory.SaleLine{}, err
	}
	line, err := tx.InsertSaleLine(ctx, inventory.SaleLine{
		SaleOrderID: order.ID,
		ProductID:   product.ID,
		Quantity:    qty,
		UnitPrice:   product.Price,
		PreorderQty: qty,
		LineTotal:   total,
	})
	if err != nil {
		return inventory.SaleOrder{}, inventory.SaleLine{}, err
	}
	return order, line, nil
}
