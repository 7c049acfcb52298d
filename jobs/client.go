package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// autoAssignDelay lets preorder distribution claim units before the
// auto-assign sweep for the same product runs.
const autoAssignDelay = 5 * time.Second

// Client enqueues engine tasks.
type Client struct {
	queue  Enqueuer
	closer func() error
	logger *slog.Logger
}

// NewClient dials the asynq queue.
func NewClient(redisOpts asynq.RedisClientOpt, logger *slog.Logger) *Client {
	client := asynq.NewClient(redisOpts)
	return newClient(client, client.Close, logger)
}

func newClient(q Enqueuer, closer func() error, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{queue: q, closer: closer, logger: logger}
}

// Notifier returns an allocation notifier that enqueues on this client.
func (c *Client) Notifier() *QueueNotifier {
	return NewQueueNotifier(c.queue)
}

// EnqueueAfterReceipt queues preorder distribution and then auto-assignment
// for every product whose free pool grew. A failed preorder enqueue skips
// that product's auto-assign so later orders never jump the queue.
func (c *Client) EnqueueAfterReceipt(ctx context.Context, productIDs []int64) error {
	var errs []error
	for _, id := range productIDs {
		if err := c.enqueueReceipt(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn("enqueue after receipt", slog.Any("products", productIDs), slog.Any("error", err))
	}
	return err
}

func (c *Client) enqueueReceipt(ctx context.Context, productID int64) error {
	preorder, err := NewPreorderDistributeTask(PreorderDistributePayload{ProductID: productID})
	if err != nil {
		return err
	}
	if _, err := c.queue.EnqueueContext(ctx, preorder, asynq.MaxRetry(5)); err != nil {
		return err
	}
	assign, err := NewAutoAssignTask(AutoAssignPayload{ProductID: productID})
	if err != nil {
		return err
	}
	_, err = c.queue.EnqueueContext(ctx, assign, asynq.MaxRetry(5), asynq.ProcessIn(autoAssignDelay))
	return err
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}
