// Package postgres implements inventory.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/platform/db"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists inventory data in PostgreSQL.
type Store struct {
	reader
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New constructs Store. lockTimeout bounds row-lock waits inside WithTx.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{reader: reader{q: pool}, pool: pool, lockTimeout: lockTimeout}
}

// WithTx executes the callback inside a read committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.Tx) error) error {
	return db.WithTx(ctx, s.pool, db.TxOptions{LockTimeout: s.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{reader: reader{q: tx}, tx: tx, audit: shared.NewAuditLogger(tx)})
	})
}

type reader struct {
	q querier
}

type txStore struct {
	reader
	tx    pgx.Tx
	audit *shared.AuditLogger
}

var (
	_ inventory.Store = (*Store)(nil)
	_ inventory.Tx    = (*txStore)(nil)
)

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func statusStrings(statuses []inventory.UnitStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFoundf(format, args...)
	}
	return fmt.Errorf("postgres: %s: %w", fmt.Sprintf(format, args...), err)
}
