package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockengine/internal/inventory"
)

const unitColumns = `u.id, u.product_id, u.status, u.condition, COALESCE(u.location_id, 0), u.purchase_cost, u.sold_price,
COALESCE(u.purchase_order_id, 0), COALESCE(u.purchase_line_id, 0), COALESCE(u.sale_order_id, 0), COALESCE(u.sale_line_id, 0),
u.status_changed_at, COALESCE(u.adjustment_ref, ''), u.created_at`

// excludeAssignedByPreorder keeps units attached by the preorder allocator
// out of a line's immediate assignment count.
const excludeAssignedByPreorder = `NOT EXISTS (
	SELECT 1 FROM assignment_logs a WHERE a.unit_id = u.id AND a.sale_line_id = u.sale_line_id AND a.source = 'preorder')`

func scanUnit(row pgx.Row, extra ...any) (inventory.Unit, error) {
	var u inventory.Unit
	dest := []any{&u.ID, &u.ProductID, &u.Status, &u.Condition, &u.LocationID, &u.PurchaseCost, &u.SoldPrice,
		&u.PurchaseOrderID, &u.PurchaseLineID, &u.SaleOrderID, &u.SaleLineID,
		&u.StatusChangedAt, &u.AdjustmentRef, &u.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return inventory.Unit{}, err
	}
	return u, nil
}

func collectUnits(rows pgx.Rows, err error) ([]inventory.Unit, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []inventory.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r reader) CountFreeUnits(ctx context.Context, productID int64, cond inventory.Condition) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_units
WHERE product_id = $1 AND status = 'available' AND sale_order_id IS NULL AND ($2::text = '' OR condition = $2)`,
		productID, string(cond)).Scan(&n)
	return n, err
}

func (r reader) CountByStatus(ctx context.Context, productID int64) (inventory.StatusCounts, error) {
	rows, err := r.q.Query(ctx, `SELECT status, COUNT(*) FROM inventory_units WHERE product_id = $1 GROUP BY status`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := inventory.StatusCounts{}
	for rows.Next() {
		var status inventory.UnitStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r reader) GetUnit(ctx context.Context, id int64) (inventory.Unit, error) {
	u, err := scanUnit(r.q.QueryRow(ctx, `SELECT `+unitColumns+` FROM inventory_units u WHERE u.id = $1`, id))
	if err != nil {
		return inventory.Unit{}, notFound(err, "unit %d", id)
	}
	return u, nil
}

const freeUnitsQuery = `SELECT ` + unitColumns + ` FROM inventory_units u
WHERE u.product_id = $1 AND u.sale_order_id IS NULL AND u.status = ANY($2)
  AND ($3::text = '' OR u.condition = $3) AND NOT (u.id = ANY($4))
ORDER BY array_position($2::text[], u.status), u.created_at, u.id
LIMIT $5`

func freeUnitArgs(q inventory.UnitQuery) []any {
	exclude := make([]int64, 0, len(q.Exclude))
	for id := range q.Exclude {
		exclude = append(exclude, id)
	}
	return []any{q.ProductID, statusStrings(q.Statuses), string(q.Condition), exclude, limitArg(q.Limit)}
}

func (r reader) ListFreeUnits(ctx context.Context, q inventory.UnitQuery) ([]inventory.Unit, error) {
	return collectUnits(r.q.Query(ctx, freeUnitsQuery, freeUnitArgs(q)...))
}

func (r reader) ListUnitsByPurchaseLine(ctx context.Context, lineID int64) ([]inventory.Unit, error) {
	return collectUnits(r.q.Query(ctx, `SELECT `+unitColumns+` FROM inventory_units u WHERE u.purchase_line_id = $1 ORDER BY u.id`, lineID))
}

func (r reader) ListUnitsBySaleOrder(ctx context.Context, orderID int64) ([]inventory.Unit, error) {
	return collectUnits(r.q.Query(ctx, `SELECT `+unitColumns+` FROM inventory_units u WHERE u.sale_order_id = $1 ORDER BY u.id`, orderID))
}

func (r reader) CountAssigned(ctx context.Context, saleLineID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_units u WHERE u.sale_line_id = $1 AND `+excludeAssignedByPreorder, saleLineID).Scan(&n)
	return n, err
}

func (r reader) ListReconcileRows(ctx context.Context, afterID int64, limit int) ([]inventory.ReconcileRow, error) {
	rows, err := r.q.Query(ctx, `SELECT `+unitColumns+`, COALESCE(po.status, ''), COALESCE(so.status, '')
FROM inventory_units u
LEFT JOIN purchase_orders po ON po.id = u.purchase_order_id
LEFT JOIN sale_orders so ON so.id = u.sale_order_id
WHERE u.id > $1 AND u.status = ANY($2)
ORDER BY u.id
LIMIT $3`, afterID, statusStrings(inventory.NonTerminalStatuses()), limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.ReconcileRow
	for rows.Next() {
		var row inventory.ReconcileRow
		u, err := scanUnit(rows, &row.PurchaseStatus, &row.SaleStatus)
		if err != nil {
			return nil, err
		}
		row.Unit = u
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *txStore) LockFreeUnits(ctx context.Context, q inventory.UnitQuery) ([]inventory.Unit, error) {
	units, err := collectUnits(t.tx.Query(ctx, freeUnitsQuery+` FOR UPDATE OF u`, freeUnitArgs(q)...))
	if err != nil {
		return nil, fmt.Errorf("postgres: lock free units: %w", err)
	}
	return units, nil
}

func (t *txStore) LockUnits(ctx context.Context, ids []int64) ([]inventory.Unit, error) {
	units, err := collectUnits(t.tx.Query(ctx, `SELECT `+unitColumns+` FROM inventory_units u WHERE u.id = ANY($1) ORDER BY u.id FOR UPDATE`, ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: lock units: %w", err)
	}
	return units, nil
}

func (t *txStore) InsertUnits(ctx context.Context, units []inventory.Unit) ([]inventory.Unit, error) {
	out := make([]inventory.Unit, 0, len(units))
	for _, u := range units {
		err := t.tx.QueryRow(ctx, `INSERT INTO inventory_units
(product_id, status, condition, location_id, purchase_cost, sold_price, purchase_order_id, purchase_line_id, sale_order_id, sale_line_id, adjustment_ref)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at, status_changed_at`,
			u.ProductID, string(u.Status), string(u.Condition), nullInt(u.LocationID), u.PurchaseCost, u.SoldPrice,
			nullInt(u.PurchaseOrderID), nullInt(u.PurchaseLineID), nullInt(u.SaleOrderID), nullInt(u.SaleLineID), nullString(u.AdjustmentRef),
		).Scan(&u.ID, &u.CreatedAt, &u.StatusChangedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert unit: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (t *txStore) UpdateUnit(ctx context.Context, u inventory.Unit) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory_units SET
status = $2, condition = $3, location_id = $4, purchase_cost = $5, sold_price = $6,
purchase_order_id = $7, purchase_line_id = $8, sale_order_id = $9, sale_line_id = $10,
status_changed_at = COALESCE($11, status_changed_at), adjustment_ref = $12
WHERE id = $1`,
		u.ID, string(u.Status), string(u.Condition), nullInt(u.LocationID), u.PurchaseCost, u.SoldPrice,
		nullInt(u.PurchaseOrderID), nullInt(u.PurchaseLineID), nullInt(u.SaleOrderID), nullInt(u.SaleLineID),
		nullTime(u.StatusChangedAt), nullString(u.AdjustmentRef))
	if err != nil {
		return fmt.Errorf("postgres: update unit %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "unit %d", u.ID)
	}
	return nil
}

func (t *txStore) DeleteUnits(ctx context.Context, ids []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM inventory_units WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("postgres: delete units: %w", err)
	}
	return nil
}

func (t *txStore) InsertAssignmentLog(ctx context.Context, log inventory.AssignmentLog) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO assignment_logs (unit_id, product_id, sale_order_id, sale_line_id, source, created_at)
VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))`, log.UnitID, log.ProductID, log.SaleOrderID, log.SaleLineID, string(log.Source), nullTime(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: insert assignment log: %w", err)
	}
	return nil
}
