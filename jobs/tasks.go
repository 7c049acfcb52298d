package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockengine/internal/allocation"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotify carries assignment notifications.
	QueueNotify = "notify"

	// TaskAutoAssign links free units to uncovered sale lines.
	TaskAutoAssign = "allocation:auto_assign"
	// TaskPreorderDistribute serves the preorder queue of one product.
	TaskPreorderDistribute = "allocation:preorder_distribute"
	// TaskNotifyAssignment delivers one assignment notification.
	TaskNotifyAssignment = "allocation:notify_assignment"
	// TaskReconcileSweep realigns unit statuses with order states.
	TaskReconcileSweep = "inventory:reconcile_sweep"
	// TaskCostingRecompute recomputes composed costs.
	TaskCostingRecompute = "costing:recompute"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// AutoAssignPayload narrows an auto-assign run. Zero values mean all
// products and no line limit.
type AutoAssignPayload struct {
	ProductID int64 `json:"product_id,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

// PreorderDistributePayload selects the product. A nil Count recomputes the
// pool.
type PreorderDistributePayload struct {
	ProductID int64 `json:"product_id"`
	Count     *int  `json:"count,omitempty"`
}

// ReconcileSweepPayload bounds a sweep.
type ReconcileSweepPayload struct {
	BatchSize  int `json:"batch_size,omitempty"`
	MaxBatches int `json:"max_batches,omitempty"`
}

// CostingRecomputePayload names either a purchase order or a product.
type CostingRecomputePayload struct {
	PurchaseOrderID int64 `json:"purchase_order_id,omitempty"`
	ProductID       int64 `json:"product_id,omitempty"`
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAutoAssignTask constructs an auto-assign task.
func NewAutoAssignTask(payload AutoAssignPayload) (*asynq.Task, error) {
	return newTask(TaskAutoAssign, payload, asynq.Queue(QueueDefault))
}

// NewPreorderDistributeTask constructs a preorder distribution task.
func NewPreorderDistributeTask(payload PreorderDistributePayload) (*asynq.Task, error) {
	return newTask(TaskPreorderDistribute, payload, asynq.Queue(QueueDefault))
}

// NewReconcileSweepTask constructs a reconcile sweep task.
func NewReconcileSweepTask(payload ReconcileSweepPayload) (*asynq.Task, error) {
	return newTask(TaskReconcileSweep, payload, asynq.Queue(QueueDefault))
}

// NewCostingRecomputeTask constructs a costing task.
func NewCostingRecomputeTask(payload CostingRecomputePayload) (*asynq.Task, error) {
	return newTask(TaskCostingRecompute, payload, asynq.Queue(QueueDefault))
}

// NewNotifyAssignmentTask wraps an assignment for asynchronous delivery.
func NewNotifyAssignmentTask(a allocation.Assignment) (*asynq.Task, error) {
	return newTask(TaskNotifyAssignment, a, asynq.Queue(QueueNotify), asynq.MaxRetry(5))
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention}, asynq.Queue(QueueDefault))
}

func newTask(typename string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, body, opts...), nil
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
