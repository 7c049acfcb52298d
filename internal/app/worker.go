package app

import (
	"log/slog"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockengine/internal/jobs"
	"github.com/odyssey-erp/stockengine/jobs"
)

// WorkerDeps are the pieces the job handlers need beyond the services.
// Cleaner may be nil when the idempotency keys live in Redis with a TTL.
type WorkerDeps struct {
	RedisOpts asynq.RedisClientOpt
	Locker    *redislock.Client
	Metrics   *jobmetrics.Metrics
	Cleaner   jobs.Cleaner
	Deliver   jobs.DeliverFunc
	Logger    *slog.Logger
}

// JobHandlers registers a handler for every stockengine task.
func (s *Services) JobHandlers(cfg *Config, deps WorkerDeps) []jobs.TaskHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := jobs.Deps{Locker: deps.Locker, Logger: logger, Metrics: deps.Metrics}
	deliver := deps.Deliver
	if deliver == nil {
		deliver = jobs.LogDelivery(logger)
	}
	batch := 0
	if cfg != nil {
		batch = cfg.SweepBatchSize
	}

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskAutoAssign, Handler: jobs.NewAutoAssignJob(s.Engine, base).Handle},
		{Type: jobs.TaskPreorderDistribute, Handler: jobs.NewPreorderDistributeJob(s.Preorders, base).Handle},
		{Type: jobs.TaskReconcileSweep, Handler: jobs.NewReconcileSweepJob(s.Reconcile, batch, base).Handle},
		{Type: jobs.TaskCostingRecompute, Handler: jobs.NewCostingRecomputeJob(s.Costing, base).Handle},
		{Type: jobs.TaskNotifyAssignment, Handler: jobs.NewAssignmentNotifyJob(deliver, base).Handle},
	}
	if deps.Cleaner != nil && cfg != nil {
		cleanup := jobs.NewIdempotencyCleanupJob(deps.Cleaner, cfg.IdempotencyRetention, base)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle})
	}
	return handlers
}

// JobSchedule lists the periodic sweeps.
func JobSchedule(withCleanup bool) ([]jobs.CronRegistration, error) {
	reconcileTask, err := jobs.NewReconcileSweepTask(jobs.ReconcileSweepPayload{})
	if err != nil {
		return nil, err
	}
	assignTask, err := jobs.NewAutoAssignTask(jobs.AutoAssignPayload{})
	if err != nil {
		return nil, err
	}
	cron := []jobs.CronRegistration{
		{Spec: "*/15 * * * *", Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: "*/5 * * * *", Task: assignTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if withCleanup {
		cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
		if err != nil {
			return nil, err
		}
		cron = append(cron, jobs.CronRegistration{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	return cron, nil
}

// NewJobWorker builds the asynq worker serving every stockengine task.
func (s *Services) NewJobWorker(cfg *Config, deps WorkerDeps) (*jobs.Worker, error) {
	cron, err := JobSchedule(deps.Cleaner != nil)
	if err != nil {
		return nil, err
	}
	concurrency := 0
	if cfg != nil {
		concurrency = cfg.WorkerConcurrency
	}
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   deps.RedisOpts,
		Logger:      deps.Logger,
		Concurrency: concurrency,
		Handlers:    s.JobHandlers(cfg, deps),
		Cron:        cron,
	})
}
