package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockengine/internal/allocation"
)

// Enqueuer is the subset of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier implements allocation.Notifier by enqueueing a notification
// task, so delivery retries happen off the allocation path.
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier constructs QueueNotifier.
func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// NotifyAssignment implements allocation.Notifier.
func (n *QueueNotifier) NotifyAssignment(ctx context.Context, a allocation.Assignment) error {
	if n == nil || n.queue == nil {
		return errors.New("jobs: notifier queue not configured")
	}
	task, err := NewNotifyAssignmentTask(a)
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task)
	return err
}

var _ allocation.Notifier = (*QueueNotifier)(nil)

// DeliverFunc sends one assignment to the customer facing channel.
type DeliverFunc func(ctx context.Context, a allocation.Assignment) error

// LogDelivery writes the assignment to the log. It is the default channel
// until a mail or push integration is configured.
func LogDelivery(logger *slog.Logger) DeliverFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, a allocation.Assignment) error {
		logger.Info("units assigned",
			slog.Int64("sale_order_id", a.SaleOrderID),
			slog.Int64("sale_line_id", a.SaleLineID),
			slog.Int64("product_id", a.ProductID),
			slog.Int64("party_id", a.PartyID),
			slog.Int("units", len(a.UnitIDs)),
			slog.String("source", string(a.Source)))
		return nil
	}
}

// AssignmentNotifyJob delivers queued assignment notifications.
type AssignmentNotifyJob struct {
	base
	Deliver DeliverFunc
}

// NewAssignmentNotifyJob wires the notification handler.
func NewAssignmentNotifyJob(deliver DeliverFunc, deps Deps) *AssignmentNotifyJob {
	return &AssignmentNotifyJob{base: deps.base(), Deliver: deliver}
}

// Handle processes TaskNotifyAssignment.
func (j *AssignmentNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Deliver == nil {
		return errors.New("notify assignment: handler not configured")
	}
	var a allocation.Assignment
	if err := decode(t, &a); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskNotifyAssignment)
	err := j.Deliver(ctx, a)
	if err != nil {
		j.logger(TaskNotifyAssignment).Warn("deliver assignment",
			slog.Int64("sale_line_id", a.SaleLineID),
			slog.Any("error", err))
	}
	return tracker.End(err)
}
