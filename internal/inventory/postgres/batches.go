package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

func (r reader) GetBatch(ctx context.Context, id int64) (inventory.Batch, error) {
	return loadBatch(ctx, r.q, id, false)
}

func (t *txStore) LockBatch(ctx context.Context, id int64) (inventory.Batch, error) {
	return loadBatch(ctx, t.tx, id, true)
}

func loadBatch(ctx context.Context, q querier, id int64, forUpdate bool) (inventory.Batch, error) {
	stmt := `SELECT id, reference, status, note, created_by, applied_at, COALESCE(applied_by, 0), created_at FROM adjustment_batches WHERE id = $1`
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	var b inventory.Batch
	var appliedAt *time.Time
	err := q.QueryRow(ctx, stmt, id).Scan(&b.ID, &b.Reference, &b.Status, &b.Note, &b.CreatedBy, &appliedAt, &b.AppliedBy, &b.CreatedAt)
	if err != nil {
		return inventory.Batch{}, notFound(err, "adjustment batch %d", id)
	}
	if appliedAt != nil {
		b.AppliedAt = *appliedAt
	}

	rows, err := q.Query(ctx, `SELECT id, batch_id, product_id, quantity, direction, reason, unit_cost, condition
FROM adjustment_lines WHERE batch_id = $1 ORDER BY id`, id)
	if err != nil {
		return inventory.Batch{}, fmt.Errorf("postgres: load adjustment lines: %w", err)
	}
	b.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.AdjustmentLine, error) {
		var l inventory.AdjustmentLine
		err := row.Scan(&l.ID, &l.BatchID, &l.ProductID, &l.Quantity, &l.Direction, &l.Reason, &l.UnitCost, &l.Condition)
		return l, err
	})
	if err != nil {
		return inventory.Batch{}, fmt.Errorf("postgres: scan adjustment lines: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT id, batch_id, line_id, unit_id, action, previous_status FROM adjustment_entries WHERE batch_id = $1 ORDER BY id`, id)
	if err != nil {
		return inventory.Batch{}, fmt.Errorf("postgres: load adjustment entries: %w", err)
	}
	b.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.AdjustmentEntry, error) {
		var e inventory.AdjustmentEntry
		err := row.Scan(&e.ID, &e.BatchID, &e.LineID, &e.UnitID, &e.Action, &e.PreviousStatus)
		return e, err
	})
	if err != nil {
		return inventory.Batch{}, fmt.Errorf("postgres: scan adjustment entries: %w", err)
	}
	return b, nil
}

func (t *txStore) InsertBatch(ctx context.Context, b inventory.Batch) (inventory.Batch, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO adjustment_batches (reference, status, note, created_by) VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		b.Reference, string(b.Status), b.Note, b.CreatedBy).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return inventory.Batch{}, shared.ErrIdempotencyConflict
		}
		return inventory.Batch{}, fmt.Errorf("postgres: insert adjustment batch: %w", err)
	}
	for i := range b.Lines {
		l := &b.Lines[i]
		l.BatchID = b.ID
		err := t.tx.QueryRow(ctx, `INSERT INTO adjustment_lines (batch_id, product_id, quantity, direction, reason, unit_cost, condition)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			l.BatchID, l.ProductID, l.Quantity, string(l.Direction), string(l.Reason), l.UnitCost, string(l.Condition)).Scan(&l.ID)
		if err != nil {
			return inventory.Batch{}, fmt.Errorf("postgres: insert adjustment line: %w", err)
		}
	}
	return b, nil
}

func (t *txStore) UpdateBatch(ctx context.Context, b inventory.Batch) error {
	_, err := t.tx.Exec(ctx, `UPDATE adjustment_batches SET status = $2, applied_at = $3, applied_by = $4 WHERE id = $1`,
		b.ID, string(b.Status), nullTime(b.AppliedAt), nullInt(b.AppliedBy))
	if err != nil {
		return fmt.Errorf("postgres: update adjustment batch %d: %w", b.ID, err)
	}
	return nil
}

func (t *txStore) InsertEntries(ctx context.Context, entries []inventory.AdjustmentEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.BatchID, e.LineID, e.UnitID, string(e.Action), string(e.PreviousStatus)}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"adjustment_entries"},
		[]string{"batch_id", "line_id", "unit_id", "action", "previous_status"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: insert adjustment entries: %w", err)
	}
	return nil
}

func (t *txStore) DeleteEntries(ctx context.Context, batchID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM adjustment_entries WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("postgres: delete adjustment entries: %w", err)
	}
	return nil
}
