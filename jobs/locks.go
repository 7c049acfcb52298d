package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	jobmetrics "github.com/odyssey-erp/stockengine/internal/jobs"
)

// DefaultLockTTL bounds how long a crashed worker can block a sweep.
const DefaultLockTTL = 10 * time.Minute

// Deps are the dependencies every job shares. A nil Locker runs sweeps
// without cross-worker exclusion.
type Deps struct {
	Locker  *redislock.Client
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func (d Deps) base() base {
	return base(d)
}

type base struct {
	Locker  *redislock.Client
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func (b base) logger(job string) *slog.Logger {
	if b.Logger != nil {
		return b.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (b base) metrics() *jobmetrics.Metrics {
	return b.Metrics
}

// exclusive runs fn while holding the redis lock at key. When another worker
// holds it the run is skipped and ran is false. Without a locker fn runs
// unguarded.
func (b base) exclusive(ctx context.Context, job, key string, fn func(context.Context) error) (ran bool, err error) {
	if b.Locker == nil {
		return true, fn(ctx)
	}
	ttl := b.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	lock, err := b.Locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		b.logger(job).Info("sweep lock held elsewhere, skipping", slog.String("key", key))
		b.metrics().Skip(job, "locked")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			b.logger(job).Warn("release sweep lock", slog.String("key", key), slog.Any("error", rerr))
		}
	}()
	return true, fn(ctx)
}
