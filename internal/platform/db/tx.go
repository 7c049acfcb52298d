package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// TxOptions tunes WithTx.
type TxOptions struct {
	IsoLevel pgx.TxIsoLevel
	// LockTimeout bounds every row-lock wait inside the transaction. Zero keeps the server default.
	LockTimeout time.Duration
}

// WithTx executes a function within a transaction. Read committed is the default so that
// SELECT ... FOR UPDATE waiters re-evaluate rows once the holder commits.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(pgx.Tx) error) error {
	iso := opts.IsoLevel
	if iso == "" {
		iso = pgx.ReadCommitted
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if opts.LockTimeout > 0 {
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return TranslateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", TranslateError(err))
	}

	return nil
}

// TranslateError maps lock and serialization failures onto the engine taxonomy.
func TranslateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03":
		return fmt.Errorf("%w: %s", shared.ErrLockTimeout, pgErr.Message)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", shared.ErrConcurrentReservation, pgErr.Message)
	}
	return err
}
