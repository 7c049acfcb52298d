package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Engine matches free units to open sale lines.
type Engine struct {
	store    inventory.Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.EngineMetrics
	now      func() time.Time
}

// Option customises Engine and PreorderAllocator.
type Option func(*options)

type options struct {
	notifier Notifier
	metrics  *observability.EngineMetrics
	now      func() time.Time
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMetrics records reserved unit counters.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{notifier: NopNotifier{}, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = NopNotifier{}
	}
	return o
}

// NewEngine constructs Engine.
func NewEngine(store inventory.Store, logger *slog.Logger, opts ...Option) *Engine {
	o := buildOptions(opts)
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, notifier: o.notifier, logger: logger, metrics: o.metrics, now: o.now}
}

// AutoAssignOptions narrows an auto-assign run.
type AutoAssignOptions struct {
	ProductID int64
	DryRun    bool
	Limit     int
}

// LineResult reports one sale line of an auto-assign run.
type LineResult struct {
	SaleOrderID int64   `json:"sale_order_id"`
	SaleLineID  int64   `json:"sale_line_id"`
	ProductID   int64   `json:"product_id"`
	Need        int     `json:"need"`
	Assigned    int     `json:"assigned"`
	Pending     int     `json:"pending"`
	UnitIDs     []int64 `json:"unit_ids,omitempty"`
}

// AutoAssignResult summarises a run. Errors keeps per-line failures in
// processing order; partial fulfilment is not an error.
type AutoAssignResult struct {
	DryRun        bool         `json:"dry_run"`
	Lines         []LineResult `json:"lines"`
	TotalAssigned int          `json:"total_assigned"`
	TotalPending  int          `json:"total_pending"`
	Errors        []error      `json:"-"`
}

// AutoAssign links available units to active sale lines whose immediate
// need is not yet covered, oldest order first. Each line commits on its own.
func (e *Engine) AutoAssign(ctx context.Context, opts AutoAssignOptions) (AutoAssignResult, error) {
	if opts.Limit < 0 {
		return AutoAssignResult{}, shared.Validationf("allocation: limit must not be negative")
	}
	demand, err := e.store.ListActiveSaleLines(ctx, inventory.SaleLineFilter{ProductID: opts.ProductID, Limit: opts.Limit})
	if err != nil {
		return AutoAssignResult{}, fmt.Errorf("allocation: list active sale lines: %w", err)
	}

	result := AutoAssignResult{DryRun: opts.DryRun}
	claimed := map[int64]struct{}{}
	for _, d := range demand {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if d.Shortfall() == 0 {
			continue
		}
		var line LineResult
		var err error
		if opts.DryRun {
			line, err = e.previewLine(ctx, d, claimed)
		} else {
			line, err = e.assignLine(ctx, d)
		}
		if err != nil {
			e.logger.Warn("auto-assign line failed",
				slog.Int64("sale_order_id", d.Line.SaleOrderID),
				slog.Int64("sale_line_id", d.Line.ID),
				slog.Any("error", err))
			result.Errors = append(result.Errors, fmt.Errorf("sale line %d: %w", d.Line.ID, err))
			continue
		}
		result.Lines = append(result.Lines, line)
		result.TotalAssigned += line.Assigned
		result.TotalPending += line.Pending

		if opts.DryRun || line.Assigned == 0 {
			continue
		}
		e.metrics.UnitsReserved(string(inventory.SourceAutoAssign), line.Assigned)
		err = e.notifier.NotifyAssignment(ctx, Assignment{
			SaleOrderID: line.SaleOrderID,
			SaleLineID:  line.SaleLineID,
			ProductID:   line.ProductID,
			UnitIDs:     line.UnitIDs,
			Source:      inventory.SourceAutoAssign,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("notify sale line %d: %w", line.SaleLineID, err))
		}
	}
	return result, nil
}

func (e *Engine) previewLine(ctx context.Context, d inventory.SaleLineDemand, claimed map[int64]struct{}) (LineResult, error) {
	shortfall := d.Shortfall()
	units, err := e.store.ListFreeUnits(ctx, inventory.UnitQuery{
		ProductID: d.Line.ProductID,
		Statuses:  []inventory.UnitStatus{inventory.StatusAvailable},
		Condition: d.Line.Condition,
		Limit:     shortfall,
		Exclude:   claimed,
	})
	if err != nil {
		return LineResult{}, err
	}
	line := lineResult(d)
	for _, u := range units {
		claimed[u.ID] = struct{}{}
		line.UnitIDs = append(line.UnitIDs, u.ID)
	}
	line.Assigned = len(units)
	line.Pending = shortfall - len(units)
	return line, nil
}

func (e *Engine) assignLine(ctx context.Context, d inventory.SaleLineDemand) (LineResult, error) {
	line := lineResult(d)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		order, err := tx.LockSaleOrder(ctx, d.Line.SaleOrderID)
		if err != nil {
			return err
		}
		if !order.Status.IsActive() {
			line.Pending = 0
			return nil
		}
		assigned, err := tx.CountAssigned(ctx, d.Line.ID)
		if err != nil {
			return err
		}
		shortfall := d.Line.ImmediateNeed() - assigned
		if shortfall <= 0 {
			line.Pending = 0
			return nil
		}
		units, err := tx.LockFreeUnits(ctx, inventory.UnitQuery{
			ProductID: d.Line.ProductID,
			Statuses:  []inventory.UnitStatus{inventory.StatusAvailable},
			Condition: d.Line.Condition,
			Limit:     shortfall,
		})
		if err != nil {
			return err
		}
		demand := inventory.SaleDemand{OrderID: order.ID, LineID: d.Line.ID}
		ids, err := inventory.ReserveUnits(ctx, tx, units, demand, inventory.SourceAutoAssign, e.now())
		if err != nil {
			return err
		}
		line.UnitIDs = ids
		line.Assigned = len(ids)
		line.Pending = shortfall - len(ids)
		return nil
	})
	if err != nil {
		return LineResult{}, err
	}
	return line, nil
}

func lineResult(d inventory.SaleLineDemand) LineResult {
	return LineResult{
		SaleOrderID: d.Line.SaleOrderID,
		SaleLineID:  d.Line.ID,
		ProductID:   d.Line.ProductID,
		Need:        d.Line.ImmediateNeed(),
		Pending:     d.Shortfall(),
	}
}

// ReleaseResult reports a released order.
type ReleaseResult struct {
	SaleOrderID           int64   `json:"sale_order_id"`
	UnitsReleased         int     `json:"units_released"`
	ReservationsCancelled int     `json:"reservations_cancelled"`
	ProductIDs            []int64 `json:"product_ids"`
}

// ErrOrderCommitted blocks releasing orders whose units are already sold.
var ErrOrderCommitted = errors.New("allocation: order has sold units")

// ReleaseOrder cancels an active sale order and returns its units to the
// free pool. ProductIDs lists products whose pool grew so callers can rerun
// allocation for them.
func (e *Engine) ReleaseOrder(ctx context.Context, orderID, actorID int64) (ReleaseResult, error) {
	result := ReleaseResult{SaleOrderID: orderID}
	err := e.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		order, err := tx.LockSaleOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.IsActive() {
			return fmt.Errorf("%w: sale order %d is %s", shared.ErrInvalidTransition, orderID, order.Status)
		}
		linked, err := tx.ListUnitsBySaleOrder(ctx, orderID)
		if err != nil {
			return err
		}
		ids := make([]int64, len(linked))
		for i, u := range linked {
			ids[i] = u.ID
		}
		units, err := tx.LockUnits(ctx, ids)
		if err != nil {
			return err
		}
		now := e.now()
		seen := map[int64]struct{}{}
		for _, u := range units {
			if u.SaleOrderID != orderID {
				continue
			}
			next, err := inventory.Transition(u.Status, inventory.EventRelease)
			if err != nil {
				return fmt.Errorf("%w: unit %d: %w", ErrOrderCommitted, u.ID, err)
			}
			if err := inventory.Detach(&u, inventory.SaleDemand{}); err != nil {
				return err
			}
			u.Status = next
			u.StatusChangedAt = now
			if err := tx.UpdateUnit(ctx, u); err != nil {
				return err
			}
			result.UnitsReleased++
			if _, ok := seen[u.ProductID]; !ok {
				seen[u.ProductID] = struct{}{}
				result.ProductIDs = append(result.ProductIDs, u.ProductID)
			}
		}

		reservations, err := tx.ListReservationsBySaleOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if r.Status != inventory.ReservationPending {
				continue
			}
			r.Status = inventory.ReservationCancelled
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			result.ReservationsCancelled++
		}

		order.Status = inventory.SaleCancelled
		if err := tx.UpdateSaleOrder(ctx, order); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "sale_order.released",
			Entity:   "sale_order",
			EntityID: fmt.Sprint(orderID),
			Meta: map[string]any{
				"units_released":         result.UnitsReleased,
				"reservations_cancelled": result.ReservationsCancelled,
			},
			At: now,
		})
	})
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("allocation: release order %d: %w", orderID, err)
	}
	e.logger.Info("sale order released", slog.Int64("sale_order_id", orderID), slog.Int("units", result.UnitsReleased))
	return result, nil
}
