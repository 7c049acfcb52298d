package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockengine/internal/allocation"
	"github.com/odyssey-erp/stockengine/internal/costing"
	"github.com/odyssey-erp/stockengine/internal/reconcile"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// errBusy makes asynq retry a run whose per-product lock was held.
var errBusy = errors.New("jobs: sweep lock held by another worker")

// AutoAssignJob runs the allocation engine on a schedule and after receipts.
type AutoAssignJob struct {
	base
	Engine *allocation.Engine
}

// NewAutoAssignJob wires the auto-assign handler.
func NewAutoAssignJob(engine *allocation.Engine, deps Deps) *AutoAssignJob {
	return &AutoAssignJob{base: deps.base(), Engine: engine}
}

// Handle processes TaskAutoAssign. Per-line failures are logged; the run only
// fails when the demand scan itself fails.
func (j *AutoAssignJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("auto assign: handler not configured")
	}
	var payload AutoAssignPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	key := shared.SweepLockKey("auto_assign")
	if payload.ProductID > 0 {
		key = shared.ProductSweepLockKey("auto_assign", payload.ProductID)
	}
	tracker := j.metrics().Track(TaskAutoAssign)
	logger := j.logger(TaskAutoAssign).With(slog.Int64("product_id", payload.ProductID))

	ran, err := j.exclusive(ctx, TaskAutoAssign, key, func(ctx context.Context) error {
		res, err := j.Engine.AutoAssign(ctx, allocation.AutoAssignOptions{ProductID: payload.ProductID, Limit: payload.Limit})
		if err != nil {
			return err
		}
		for _, lineErr := range res.Errors {
			logger.Warn("auto assign line", slog.Any("error", lineErr))
		}
		logger.Info("auto assign finished",
			slog.Int("lines", len(res.Lines)),
			slog.Int("assigned", res.TotalAssigned),
			slog.Int("pending", res.TotalPending),
			slog.Int("errors", len(res.Errors)))
		return nil
	})
	if !ran && err == nil && payload.ProductID > 0 {
		err = errBusy
	}
	return tracker.End(err)
}

// PreorderDistributeJob serves the preorder queue of one product.
type PreorderDistributeJob struct {
	base
	Allocator *allocation.PreorderAllocator
}

// NewPreorderDistributeJob wires the preorder handler.
func NewPreorderDistributeJob(allocator *allocation.PreorderAllocator, deps Deps) *PreorderDistributeJob {
	return &PreorderDistributeJob{base: deps.base(), Allocator: allocator}
}

// Handle processes TaskPreorderDistribute. A held product lock is retried so
// supply announced during a concurrent run is not lost.
func (j *PreorderDistributeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Allocator == nil {
		return errors.New("preorder distribute: handler not configured")
	}
	var payload PreorderDistributePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.ProductID <= 0 {
		return fmt.Errorf("preorder distribute: product required: %w", asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskPreorderDistribute)
	logger := j.logger(TaskPreorderDistribute).With(slog.Int64("product_id", payload.ProductID))

	ran, err := j.exclusive(ctx, TaskPreorderDistribute, shared.ProductSweepLockKey("preorder", payload.ProductID), func(ctx context.Context) error {
		res, err := j.Allocator.Distribute(ctx, allocation.DistributeInput{ProductID: payload.ProductID, Count: payload.Count})
		if err != nil {
			return err
		}
		for _, nerr := range res.Errors {
			logger.Warn("preorder notification", slog.Any("error", nerr))
		}
		logger.Info("preorder distribute finished",
			slog.Int("pool", res.PoolSize),
			slog.Int("assigned", res.UnitsAssigned),
			slog.Int("reservations", len(res.Reservations)))
		return nil
	})
	if !ran && err == nil {
		err = errBusy
	}
	return tracker.End(err)
}

// ReconcileSweepJob realigns unit statuses across the whole table.
type ReconcileSweepJob struct {
	base
	Reconciler *reconcile.Service
	BatchSize  int
}

// NewReconcileSweepJob wires the reconcile handler.
func NewReconcileSweepJob(reconciler *reconcile.Service, batchSize int, deps Deps) *ReconcileSweepJob {
	return &ReconcileSweepJob{base: deps.base(), Reconciler: reconciler, BatchSize: batchSize}
}

// Handle processes TaskReconcileSweep. Only one worker sweeps at a time;
// the others skip.
func (j *ReconcileSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile sweep: handler not configured")
	}
	var payload ReconcileSweepPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = j.BatchSize
	}
	tracker := j.metrics().Track(TaskReconcileSweep)
	logger := j.logger(TaskReconcileSweep)
	start := time.Now()

	_, err := j.exclusive(ctx, TaskReconcileSweep, shared.SweepLockKey("reconcile"), func(ctx context.Context) error {
		res, err := j.Reconciler.Sweep(ctx, reconcile.SweepOptions{BatchSize: payload.BatchSize, MaxBatches: payload.MaxBatches})
		if err != nil {
			return err
		}
		logger.Info("reconcile sweep finished",
			slog.Int("scanned", res.Scanned),
			slog.Int("updated", res.Updated),
			slog.Int("skipped", res.Skipped),
			slog.Int("errors", len(res.Errors)),
			slog.Duration("duration", time.Since(start)))
		return nil
	})
	return tracker.End(err)
}

// CostingRecomputeJob recomputes composed costs for a purchase order or a
// product.
type CostingRecomputeJob struct {
	base
	Costing *costing.Service
}

// NewCostingRecomputeJob wires the costing handler.
func NewCostingRecomputeJob(svc *costing.Service, deps Deps) *CostingRecomputeJob {
	return &CostingRecomputeJob{base: deps.base(), Costing: svc}
}

// Handle processes TaskCostingRecompute.
func (j *CostingRecomputeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Costing == nil {
		return errors.New("costing recompute: handler not configured")
	}
	var payload CostingRecomputePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskCostingRecompute)
	logger := j.logger(TaskCostingRecompute)

	switch {
	case payload.PurchaseOrderID > 0:
		res, err := j.Costing.RecomputePurchaseOrder(ctx, payload.PurchaseOrderID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
			}
			return tracker.End(err)
		}
		logger.Info("purchase order recomputed",
			slog.Int64("purchase_order_id", payload.PurchaseOrderID),
			slog.Int("revalued", res.UnitsRevalued))
		return tracker.End(nil)
	case payload.ProductID > 0:
		_, err := j.exclusive(ctx, TaskCostingRecompute, shared.ProductSweepLockKey("costing", payload.ProductID), func(ctx context.Context) error {
			res, err := j.Costing.RecomputeProduct(ctx, payload.ProductID)
			if err != nil {
				return err
			}
			for _, oerr := range res.Errors {
				logger.Warn("recompute purchase order", slog.Any("error", oerr))
			}
			logger.Info("product recomputed",
				slog.Int64("product_id", payload.ProductID),
				slog.Int("orders", len(res.Orders)),
				slog.Int("errors", len(res.Errors)))
			return nil
		})
		return tracker.End(err)
	}
	return tracker.End(fmt.Errorf("costing recompute: purchase order or product required: %w", asynq.SkipRetry))
}

// Cleaner drops expired idempotency keys. *shared.IdempotencyStore
// satisfies it.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes the idempotency table.
type IdempotencyCleanupJob struct {
	base
	Store     Cleaner
	Retention time.Duration
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(store Cleaner, retention time.Duration, deps Deps) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{base: deps.base(), Store: store, Retention: retention}
}

// Handle processes TaskIdempotencyCleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = j.Retention
	}
	if retention <= 0 {
		return fmt.Errorf("idempotency cleanup: retention required: %w", asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	_, err := j.exclusive(ctx, TaskIdempotencyCleanup, shared.SweepLockKey("idempotency_cleanup"), func(ctx context.Context) error {
		removed, err := j.Store.Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		j.logger(TaskIdempotencyCleanup).Info("idempotency keys pruned",
			slog.Int64("removed", removed),
			slog.Duration("retention", retention))
		return nil
	})
	return tracker.End(err)
}
