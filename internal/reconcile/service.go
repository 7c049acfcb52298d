// Package reconcile realigns unit statuses with their purchase and sale
// order states.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// DefaultBatchSize is used when SweepOptions.BatchSize is zero.
const DefaultBatchSize = 500

// SweepOptions bounds a sweep. AfterID resumes from a previous cursor;
// MaxBatches zero means run until the table is exhausted.
type SweepOptions struct {
	BatchSize  int
	AfterID    int64
	MaxBatches int
}

// SweepResult reports a sweep. Cursor is the last unit id visited.
type SweepResult struct {
	Scanned   int     `json:"scanned"`
	Updated   int     `json:"updated"`
	Unchanged int     `json:"unchanged"`
	Skipped   int     `json:"skipped"`
	Cursor    int64   `json:"cursor"`
	Done      bool    `json:"done"`
	Errors    []error `json:"-"`
}

// Service runs reconciliation sweeps.
type Service struct {
	store   inventory.Store
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	now     func() time.Time
}

// NewService constructs Service.
func NewService(store inventory.Store, logger *slog.Logger, metrics *observability.EngineMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeSkipped
)

// Sweep walks non-terminal units in id order. A failing unit is logged and
// reported; the sweep moves on.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	result := SweepResult{Cursor: opts.AfterID}
	for batches := 0; opts.MaxBatches == 0 || batches < opts.MaxBatches; batches++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rows, err := s.store.ListReconcileRows(ctx, result.Cursor, size)
		if err != nil {
			return result, fmt.Errorf("reconcile: list units after %d: %w", result.Cursor, err)
		}
		for _, row := range rows {
			result.Scanned++
			result.Cursor = row.Unit.ID
			if desired(row) {
				result.Unchanged++
				continue
			}
			out, err := s.fix(ctx, row.Unit.ID)
			if err != nil {
				s.logger.Warn("reconcile unit failed", slog.Int64("unit_id", row.Unit.ID), slog.Any("error", err))
				result.Errors = append(result.Errors, fmt.Errorf("unit %d: %w", row.Unit.ID, err))
				continue
			}
			switch out {
			case outcomeUpdated:
				result.Updated++
			case outcomeSkipped:
				result.Skipped++
			default:
				result.Unchanged++
			}
		}
		if len(rows) < size {
			result.Done = true
			break
		}
	}

	s.metrics.SweepRows("reconcile", "updated", result.Updated)
	s.metrics.SweepRows("reconcile", "unchanged", result.Unchanged)
	s.metrics.SweepRows("reconcile", "skipped", result.Skipped)
	s.metrics.SweepRows("reconcile", "failed", len(result.Errors))
	s.logger.Info("reconcile sweep finished",
		slog.Int("scanned", result.Scanned),
		slog.Int("updated", result.Updated),
		slog.Int("errors", len(result.Errors)),
		slog.Int64("cursor", result.Cursor))
	return result, nil
}

// desired reports rows that already match the decision table and carry no
// cancelled sale link.
func desired(row inventory.ReconcileRow) bool {
	po := purchaseStage(row.Unit, row.PurchaseStatus)
	var so *inventory.SaleStatus
	if row.Unit.Linked() {
		if row.SaleStatus == "" || row.SaleStatus == inventory.SaleCancelled {
			return false
		}
		so = &row.SaleStatus
	}
	want, ok := inventory.DeriveStatus(po, so)
	return ok && want == row.Unit.Status
}

// fix re-reads the unit and its orders under lock and writes the derived
// status.
func (s *Service) fix(ctx context.Context, unitID int64) (outcome, error) {
	var out outcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		locked, err := tx.LockUnits(ctx, []int64{unitID})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			out = outcomeUnchanged
			return nil
		}
		u := locked[0]
		if u.Status.IsTerminal() {
			out = outcomeUnchanged
			return nil
		}

		var poStatus inventory.PurchaseStatus
		if u.PurchaseOrderID != 0 {
			po, err := tx.GetPurchaseOrder(ctx, u.PurchaseOrderID)
			if err != nil {
				return err
			}
			poStatus = po.Status
		}
		po := purchaseStage(u, poStatus)

		previous := u
		var so *inventory.SaleStatus
		if u.Linked() {
			order, err := tx.GetSaleOrder(ctx, u.SaleOrderID)
			switch {
			case err == nil && order.Status != inventory.SaleCancelled:
				so = &order.Status
			case err == nil || errors.Is(err, shared.ErrNotFound):
				if err := inventory.Detach(&u, inventory.SaleDemand{}); err != nil {
					return err
				}
			default:
				return err
			}
		}

		want, ok := inventory.DeriveStatus(po, so)
		if !ok {
			out = outcomeSkipped
			s.logger.Info("reconcile: no rule for unit",
				slog.Int64("unit_id", u.ID),
				slog.String("purchase_status", string(po)))
			return nil
		}
		if want == u.Status && u.SaleOrderID == previous.SaleOrderID {
			out = outcomeUnchanged
			return nil
		}
		u.Status = want
		u.StatusChangedAt = s.now()
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		out = outcomeUpdated
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   "unit.reconciled",
			Entity:   "inventory_unit",
			EntityID: strconv.FormatInt(u.ID, 10),
			Meta: map[string]any{
				"previous_status":      string(previous.Status),
				"new_status":           string(u.Status),
				"cleared_sale_order":   previous.SaleOrderID != u.SaleOrderID,
				"previous_sale_order":  previous.SaleOrderID,
				"purchase_order_state": string(po),
			},
			At: u.StatusChangedAt,
		})
	})
	if err != nil {
		return outcomeUnchanged, err
	}
	return out, nil
}

// purchaseStage treats units without a purchase order, such as those created
// by adjustments, as delivered stock.
func purchaseStage(u inventory.Unit, status inventory.PurchaseStatus) inventory.PurchaseStatus {
	if u.PurchaseOrderID == 0 {
		return inventory.PurchaseDelivered
	}
	return status
}
