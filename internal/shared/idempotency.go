package shared

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IdempotencyStore records processed keys in idempotency_keys. It satisfies
// the key claimer used by procurement and the cleaner used by the
// maintenance job.
type IdempotencyStore struct {
	db Execer
}

// NewIdempotencyStore wraps db, usually the shared pool.
func NewIdempotencyStore(db Execer) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// IdempotencyKey joins key parts with ':'.
func IdempotencyKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// CheckAndInsert claims key for module, returning ErrIdempotencyConflict when
// it was claimed before. ON CONFLICT keeps an enclosing transaction usable.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if err := s.ready(); err != nil {
		return err
	}
	switch {
	case key == "":
		return errors.New("idempotency key required")
	case module == "":
		return errors.New("idempotency module required")
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, module)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases key so a failed operation can be retried.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

// Cleanup drops keys claimed more than olderThan ago and returns the count.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		return 0, errors.New("idempotency retention must be positive")
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *IdempotencyStore) ready() error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	return nil
}

// IsUniqueViolation reports whether err wraps a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
