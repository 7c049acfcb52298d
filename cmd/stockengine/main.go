package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockengine/cmd/stockengine/cli"
	"github.com/odyssey-erp/stockengine/internal/app"
	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
	"github.com/odyssey-erp/stockengine/internal/inventory/postgres"
	jobmetrics "github.com/odyssey-erp/stockengine/internal/jobs"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/platform/cache"
	"github.com/odyssey-erp/stockengine/internal/platform/db"
	"github.com/odyssey-erp/stockengine/internal/procurement"
	"github.com/odyssey-erp/stockengine/internal/shared"
	"github.com/odyssey-erp/stockengine/jobs"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(os.Args[2:], os.Stdout, os.Stderr))
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	health := map[string]app.HealthCheck{}

	var (
		store   inventory.Store
		claims  procurement.KeyClaimer
		cleaner jobs.Cleaner
		dbpool  *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case app.StoreDriverPostgres:
		dbpool, err = db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate schema", slog.Any("error", err))
			os.Exit(1)
		}
		idempotency := shared.NewIdempotencyStore(dbpool)
		store, claims, cleaner = postgres.New(dbpool, cfg.LockTimeout), idempotency, idempotency
		health["postgres"] = func(r *http.Request) error { return dbpool.Ping(r.Context()) }
	case app.StoreDriverMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		store = memory.NewSeeded(memory.WithLockTimeout(cfg.LockTimeout))
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, background jobs disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		health["redis"] = func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() }
		if claims == nil {
			claims = cache.NewKeyClaimer(redisClient, cfg.IdempotencyRetention)
		}
	}

	metrics := observability.NewMetrics()
	deps := app.ServiceDeps{Store: store, Claims: claims, Metrics: metrics, Logger: logger}

	var (
		jobClient  *jobs.Client
		jobHandler *jobs.Handler
		onReceive  func(*http.Request, []int64)
	)
	redisOpts := cfg.Redis().Asynq()
	if redisClient != nil {
		jobClient = jobs.NewClient(redisOpts, logger)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		deps.Notifier = jobClient.Notifier()
		onReceive = func(r *http.Request, productIDs []int64) {
			// The periodic auto-assign sweep covers a lost enqueue.
			_ = jobClient.EnqueueAfterReceipt(context.WithoutCancel(r.Context()), productIDs)
		}

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	services := app.NewServices(cfg, deps)
	params := services.RouterParams(cfg, logger, metrics, onReceive)
	params.JobHandler = jobHandler
	params.Health = health

	if cfg.StoreDriver == app.StoreDriverMemory && redisClient != nil {
		// The memory store lives in this process, so its jobs must run here too.
		worker, err := services.NewJobWorker(cfg, app.WorkerDeps{
			RedisOpts: redisOpts,
			Locker:    cache.NewLocker(redisClient),
			Metrics:   jobmetrics.NewMetrics(metrics.Registerer()),
			Cleaner:   cleaner,
			Logger:    logger.With(slog.String("component", "worker")),
		})
		if err != nil {
			logger.Error("init embedded worker", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("embedded worker", slog.Any("error", err))
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobs handles `stockengine jobs <trigger|stats> [flags] [task]`.
func runJobs(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = io.WriteString(stderr, "usage: stockengine jobs <trigger|stats> [flags] [task]\n")
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	redisDB := fs.Int("redis-db", 0, "redis database")
	productID := fs.Int64("product", 0, "product id scope")
	poID := fs.Int64("po", 0, "purchase order id scope")
	retention := fs.Duration("retention", 0, "idempotency retention override")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	c := cli.NewJobsCLI(cache.Options{Addr: *redisAddr, Password: os.Getenv("REDIS_PASSWORD"), DB: *redisDB})
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Command(ctx, cli.CommandOptions{
		Action: args[0],
		Trigger: cli.TriggerOptions{
			Task:            fs.Arg(0),
			ProductID:       *productID,
			PurchaseOrderID: *poID,
			Retention:       *retention,
		},
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
