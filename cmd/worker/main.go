package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/stockengine/internal/app"
	"github.com/odyssey-erp/stockengine/internal/inventory/postgres"
	jobmetrics "github.com/odyssey-erp/stockengine/internal/jobs"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/platform/cache"
	"github.com/odyssey-erp/stockengine/internal/platform/db"
	"github.com/odyssey-erp/stockengine/internal/shared"
	"github.com/odyssey-erp/stockengine/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))
	if cfg.StoreDriver != app.StoreDriverPostgres {
		logger.Error("worker requires STORE_DRIVER=postgres; the memory driver runs jobs inside the api process")
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.Redis().Asynq()
	client := jobs.NewClient(redisOpts, logger)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, app.ServiceDeps{
		Store:    postgres.New(pool, cfg.LockTimeout),
		Claims:   shared.NewIdempotencyStore(pool),
		Notifier: client.Notifier(),
		Metrics:  metrics,
		Logger:   logger,
	})

	worker, err := services.NewJobWorker(cfg, app.WorkerDeps{
		RedisOpts: redisOpts,
		Locker:    cache.NewLocker(redisClient),
		Metrics:   jobmetrics.NewMetrics(metrics.Registerer()),
		Cleaner:   shared.NewIdempotencyStore(pool),
		Logger:    logger,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
