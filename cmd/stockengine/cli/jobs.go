package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockengine/internal/platform/cache"
	"github.com/odyssey-erp/stockengine/jobs"
)

// JobsCLI wraps manual management helpers for stockengine jobs.
type JobsCLI struct {
	queue     jobs.Enqueuer
	inspector jobs.QueueInspector
	closers   []io.Closer
}

// NewJobsCLI connects the CLI helpers to the queue's Redis instance.
func NewJobsCLI(redis cache.Options) *JobsCLI {
	opt := redis.Asynq()
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	return &JobsCLI{queue: client, inspector: inspector, closers: []io.Closer{inspector, client}}
}

func newJobsCLI(queue jobs.Enqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{queue: queue, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// TriggerOptions selects the task and the scope it runs for.
type TriggerOptions struct {
	Task            string
	ProductID       int64
	PurchaseOrderID int64
	Retention       time.Duration
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.queue == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch opts.Task {
	case jobs.TaskAutoAssign:
		task, err = jobs.NewAutoAssignTask(jobs.AutoAssignPayload{ProductID: opts.ProductID})
	case jobs.TaskPreorderDistribute:
		if opts.ProductID <= 0 {
			return nil, errors.New("jobs cli: --product is required for preorder distribution")
		}
		task, err = jobs.NewPreorderDistributeTask(jobs.PreorderDistributePayload{ProductID: opts.ProductID})
	case jobs.TaskReconcileSweep:
		task, err = jobs.NewReconcileSweepTask(jobs.ReconcileSweepPayload{})
	case jobs.TaskCostingRecompute:
		if opts.ProductID <= 0 && opts.PurchaseOrderID <= 0 {
			return nil, errors.New("jobs cli: --product or --po is required for costing")
		}
		task, err = jobs.NewCostingRecomputeTask(jobs.CostingRecomputePayload{
			PurchaseOrderID: opts.PurchaseOrderID,
			ProductID:       opts.ProductID,
		})
	case jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(opts.Retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", opts.Task)
	}
	if err != nil {
		return nil, err
	}
	return c.queue.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// InspectQueues reports the state of every engine queue.
func (c *JobsCLI) InspectQueues() ([]jobs.QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	return jobs.InspectQueues(c.inspector)
}

// CommandOptions defines the flags accepted by the jobs command.
type CommandOptions struct {
	Action     string
	Trigger    TriggerOptions
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// Command runs `jobs trigger` or `jobs stats` and returns the exit code.
func (c *JobsCLI) Command(ctx context.Context, opts CommandOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	switch opts.Action {
	case "trigger":
		info, err := c.Trigger(ctx, opts.Trigger)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			return encode(opts, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := c.InspectQueues()
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			return encode(opts, stats)
		}
		for _, s := range stats {
			_, _ = fmt.Fprintf(opts.Stdout, "%-8s size=%d pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Size, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return 0
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: unknown action %q (expected trigger or stats)\n", opts.Action)
		return 2
	}
}

func encode(opts CommandOptions, v any) int {
	if err := json.NewEncoder(opts.Stdout).Encode(v); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs %s: encode json: %v\n", opts.Action, err)
		return 1
	}
	return 0
}
