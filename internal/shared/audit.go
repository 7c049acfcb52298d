package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// AuditLog is one stock movement worth keeping: who did what to which
// entity. A zero At is stamped by the store.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate reports the first missing mandatory field.
func (log AuditLog) Validate() error {
	for _, f := range [...]struct{ name, value string }{
		{"action", log.Action},
		{"entity", log.Entity},
		{"entity_id", log.EntityID},
	} {
		if f.value == "" {
			return fmt.Errorf("audit log: %s required", f.name)
		}
	}
	return nil
}

// AuditLogger appends rows to audit_logs. Built on a pgx.Tx, its rows commit
// or roll back with the change they describe.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger wraps db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record validates and inserts log. Empty metadata is stored as NULL.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	var meta []byte
	if len(log.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(log.Meta); err != nil {
			return fmt.Errorf("audit log: encode meta: %w", err)
		}
	}
	at := log.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, meta, at)
	return err
}
