package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

func (r reader) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	var p inventory.Product
	err := r.q.QueryRow(ctx, `SELECT id, sku, name, price, length_cm, width_cm, height_cm, allow_preorder, allow_backorder
FROM products WHERE id = $1`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Length, &p.Width, &p.Height, &p.AllowPreorder, &p.AllowBackorder)
	if err != nil {
		return inventory.Product{}, notFound(err, "product %d", id)
	}
	return p, nil
}

const saleOrderColumns = `id, number, party_id, status, shipping_method, payment_method, shipping_cost, subtotal, total, COALESCE(checkout_token, ''), created_at`

func scanSaleOrder(row pgx.Row) (inventory.SaleOrder, error) {
	var o inventory.SaleOrder
	err := row.Scan(&o.ID, &o.Number, &o.PartyID, &o.Status, &o.ShippingMethod, &o.PaymentMethod, &o.ShippingCost, &o.Subtotal, &o.Total, &o.CheckoutToken, &o.CreatedAt)
	return o, err
}

func (r reader) GetSaleOrder(ctx context.Context, id int64) (inventory.SaleOrder, error) {
	o, err := scanSaleOrder(r.q.QueryRow(ctx, `SELECT `+saleOrderColumns+` FROM sale_orders WHERE id = $1`, id))
	if err != nil {
		return inventory.SaleOrder{}, notFound(err, "sale order %d", id)
	}
	return o, nil
}

func (r reader) FindSaleOrderByToken(ctx context.Context, partyID int64, token string) (inventory.SaleOrder, bool, error) {
	if token == "" {
		return inventory.SaleOrder{}, false, nil
	}
	o, err := scanSaleOrder(r.q.QueryRow(ctx, `SELECT `+saleOrderColumns+` FROM sale_orders WHERE party_id = $1 AND checkout_token = $2`, partyID, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.SaleOrder{}, false, nil
	}
	if err != nil {
		return inventory.SaleOrder{}, false, fmt.Errorf("postgres: find sale order by token: %w", err)
	}
	return o, true, nil
}

func (r reader) ListSaleLines(ctx context.Context, orderID int64) ([]inventory.SaleLine, error) {
	rows, err := r.q.Query(ctx, `SELECT id, sale_order_id, product_id, quantity, condition, unit_price, preorder_qty, backorder_qty, line_total
FROM sale_order_lines WHERE sale_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []inventory.SaleLine
	for rows.Next() {
		var l inventory.SaleLine
		if err := rows.Scan(&l.ID, &l.SaleOrderID, &l.ProductID, &l.Quantity, &l.Condition, &l.UnitPrice, &l.PreorderQty, &l.BackorderQty, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r reader) ListActiveSaleLines(ctx context.Context, filter inventory.SaleLineFilter) ([]inventory.SaleLineDemand, error) {
	rows, err := r.q.Query(ctx, `SELECT l.id, l.sale_order_id, l.product_id, l.quantity, l.condition, l.unit_price, l.preorder_qty, l.backorder_qty, l.line_total,
  o.created_at,
  (SELECT COUNT(*) FROM inventory_units u WHERE u.sale_line_id = l.id AND `+excludeAssignedByPreorder+`)
FROM sale_order_lines l
JOIN sale_orders o ON o.id = l.sale_order_id
WHERE o.status IN ('pending', 'confirmed') AND ($1::bigint = 0 OR l.product_id = $1)
ORDER BY o.created_at, o.id, l.id
LIMIT $2`, filter.ProductID, limitArg(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.SaleLineDemand
	for rows.Next() {
		var d inventory.SaleLineDemand
		l := &d.Line
		if err := rows.Scan(&l.ID, &l.SaleOrderID, &l.ProductID, &l.Quantity, &l.Condition, &l.UnitPrice, &l.PreorderQty, &l.BackorderQty, &l.LineTotal, &d.OrderedAt, &d.Assigned); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *txStore) LockSaleOrder(ctx context.Context, id int64) (inventory.SaleOrder, error) {
	o, err := scanSaleOrder(t.tx.QueryRow(ctx, `SELECT `+saleOrderColumns+` FROM sale_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return inventory.SaleOrder{}, notFound(err, "sale order %d", id)
	}
	return o, nil
}

func (t *txStore) InsertSaleOrder(ctx context.Context, o inventory.SaleOrder) (inventory.SaleOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_orders (number, party_id, status, shipping_method, payment_method, shipping_cost, subtotal, total, checkout_token)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		o.Number, o.PartyID, string(o.Status), o.ShippingMethod, o.PaymentMethod, o.ShippingCost, o.Subtotal, o.Total, nullString(o.CheckoutToken),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return inventory.SaleOrder{}, shared.ErrIdempotencyConflict
		}
		return inventory.SaleOrder{}, fmt.Errorf("postgres: insert sale order: %w", err)
	}
	return o, nil
}

func (t *txStore) UpdateSaleOrder(ctx context.Context, o inventory.SaleOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE sale_orders SET status = $2, shipping_cost = $3, subtotal = $4, total = $5, updated_at = NOW() WHERE id = $1`,
		o.ID, string(o.Status), o.ShippingCost, o.Subtotal, o.Total)
	if err != nil {
		return fmt.Errorf("postgres: update sale order %d: %w", o.ID, err)
	}
	return nil
}

func (t *txStore) InsertSaleLine(ctx context.Context, l inventory.SaleLine) (inventory.SaleLine, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_order_lines (sale_order_id, product_id, quantity, condition, unit_price, preorder_qty, backorder_qty, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		l.SaleOrderID, l.ProductID, l.Quantity, string(l.Condition), l.UnitPrice, l.PreorderQty, l.BackorderQty, l.LineTotal,
	).Scan(&l.ID)
	if err != nil {
		return inventory.SaleLine{}, fmt.Errorf("postgres: insert sale line: %w", err)
	}
	return l, nil
}

func (t *txStore) InsertAddress(ctx context.Context, orderID int64, a inventory.Address) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_addresses (sale_order_id, recipient, line1, line2, city, region, postal_code, country, phone)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, orderID, a.Recipient, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country, a.Phone)
	if err != nil {
		return fmt.Errorf("postgres: insert address: %w", err)
	}
	return nil
}

func (t *txStore) InsertPayment(ctx context.Context, p inventory.Payment) (inventory.Payment, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (sale_order_id, method, amount, status) VALUES ($1,$2,$3,$4) RETURNING id`,
		p.SaleOrderID, p.Method, p.Amount, string(p.Status)).Scan(&p.ID)
	if err != nil {
		return inventory.Payment{}, fmt.Errorf("postgres: insert payment: %w", err)
	}
	return p, nil
}

const purchaseOrderColumns = `id, number, supplier_ref, status, currency, exchange_rate, shipping_cost, tax_cost, other_cost, subtotal, total, created_at`

func scanPurchaseOrder(row pgx.Row) (inventory.PurchaseOrder, error) {
	var po inventory.PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.SupplierRef, &po.Status, &po.Currency, &po.ExchangeRate, &po.ShippingCost, &po.TaxCost, &po.OtherCost, &po.Subtotal, &po.Total, &po.CreatedAt)
	return po, err
}

func (r reader) GetPurchaseOrder(ctx context.Context, id int64) (inventory.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(r.q.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return inventory.PurchaseOrder{}, notFound(err, "purchase order %d", id)
	}
	return po, nil
}

func (r reader) ListPurchaseLines(ctx context.Context, orderID int64) ([]inventory.PurchaseLine, error) {
	rows, err := r.q.Query(ctx, `SELECT id, purchase_order_id, product_id, quantity, unit_cost, additional_cost, composed_cost, composed_cost_base
FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []inventory.PurchaseLine
	for rows.Next() {
		var l inventory.PurchaseLine
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.ProductID, &l.Quantity, &l.UnitCost, &l.AdditionalCost, &l.ComposedCost, &l.ComposedCostBase); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r reader) ListPurchaseOrderIDsByProduct(ctx context.Context, productID int64) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT purchase_order_id FROM purchase_order_lines WHERE product_id = $1 ORDER BY purchase_order_id`, productID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txStore) LockPurchaseOrder(ctx context.Context, id int64) (inventory.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(t.tx.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return inventory.PurchaseOrder{}, notFound(err, "purchase order %d", id)
	}
	return po, nil
}

func (t *txStore) InsertPurchaseOrder(ctx context.Context, po inventory.PurchaseOrder) (inventory.PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_ref, status, currency, exchange_rate, shipping_cost, tax_cost, other_cost, subtotal, total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		po.Number, po.SupplierRef, string(po.Status), po.Currency, po.ExchangeRate, po.ShippingCost, po.TaxCost, po.OtherCost, po.Subtotal, po.Total,
	).Scan(&po.ID, &po.CreatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return inventory.PurchaseOrder{}, shared.ErrIdempotencyConflict
		}
		return inventory.PurchaseOrder{}, fmt.Errorf("postgres: insert purchase order: %w", err)
	}
	return po, nil
}

func (t *txStore) UpdatePurchaseOrder(ctx context.Context, po inventory.PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, exchange_rate = $3, shipping_cost = $4, tax_cost = $5, other_cost = $6,
subtotal = $7, total = $8, updated_at = NOW() WHERE id = $1`,
		po.ID, string(po.Status), po.ExchangeRate, po.ShippingCost, po.TaxCost, po.OtherCost, po.Subtotal, po.Total)
	if err != nil {
		return fmt.Errorf("postgres: update purchase order %d: %w", po.ID, err)
	}
	return nil
}

func (t *txStore) InsertPurchaseLine(ctx context.Context, l inventory.PurchaseLine) (inventory.PurchaseLine, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (purchase_order_id, product_id, quantity, unit_cost, additional_cost, composed_cost, composed_cost_base)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		l.PurchaseOrderID, l.ProductID, l.Quantity, l.UnitCost, l.AdditionalCost, l.ComposedCost, l.ComposedCostBase,
	).Scan(&l.ID)
	if err != nil {
		return inventory.PurchaseLine{}, fmt.Errorf("postgres: insert purchase line: %w", err)
	}
	return l, nil
}

func (t *txStore) UpdatePurchaseLine(ctx context.Context, l inventory.PurchaseLine) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET additional_cost = $2, composed_cost = $3, composed_cost_base = $4 WHERE id = $1`,
		l.ID, l.AdditionalCost, l.ComposedCost, l.ComposedCostBase)
	if err != nil {
		return fmt.Errorf("postgres: update purchase line %d: %w", l.ID, err)
	}
	return nil
}

const reservationColumns = `id, product_id, party_id, quantity, status, reserved_at, COALESCE(sale_order_id, 0), COALESCE(sale_line_id, 0), COALESCE(parent_id, 0)`

func collectReservations(rows pgx.Rows, err error) ([]inventory.PreorderReservation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.PreorderReservation
	for rows.Next() {
		var r inventory.PreorderReservation
		if err := rows.Scan(&r.ID, &r.ProductID, &r.PartyID, &r.Quantity, &r.Status, &r.ReservedAt, &r.SaleOrderID, &r.SaleLineID, &r.ParentID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r reader) ListPendingReservations(ctx context.Context, productID int64) ([]inventory.PreorderReservation, error) {
	return collectReservations(r.q.Query(ctx, `SELECT `+reservationColumns+` FROM preorder_reservations
WHERE product_id = $1 AND status = 'pending' ORDER BY reserved_at, id`, productID))
}

func (r reader) ListReservationsBySaleOrder(ctx context.Context, orderID int64) ([]inventory.PreorderReservation, error) {
	return collectReservations(r.q.Query(ctx, `SELECT `+reservationColumns+` FROM preorder_reservations WHERE sale_order_id = $1 ORDER BY id`, orderID))
}

func (t *txStore) LockPendingReservations(ctx context.Context, productID int64) ([]inventory.PreorderReservation, error) {
	res, err := collectReservations(t.tx.Query(ctx, `SELECT `+reservationColumns+` FROM preorder_reservations
WHERE product_id = $1 AND status = 'pending' ORDER BY reserved_at, id FOR UPDATE`, productID))
	if err != nil {
		return nil, fmt.Errorf("postgres: lock pending reservations: %w", err)
	}
	return res, nil
}

func (t *txStore) InsertReservation(ctx context.Context, r inventory.PreorderReservation) (inventory.PreorderReservation, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO preorder_reservations (product_id, party_id, quantity, status, reserved_at, sale_order_id, sale_line_id, parent_id)
VALUES ($1,$2,$3,$4,COALESCE($5, NOW()),$6,$7,$8) RETURNING id, reserved_at`,
		r.ProductID, r.PartyID, r.Quantity, string(r.Status), nullTime(r.ReservedAt), nullInt(r.SaleOrderID), nullInt(r.SaleLineID), nullInt(r.ParentID),
	).Scan(&r.ID, &r.ReservedAt)
	if err != nil {
		return inventory.PreorderReservation{}, fmt.Errorf("postgres: insert reservation: %w", err)
	}
	return r, nil
}

func (t *txStore) UpdateReservation(ctx context.Context, r inventory.PreorderReservation) error {
	_, err := t.tx.Exec(ctx, `UPDATE preorder_reservations SET quantity = $2, status = $3, sale_order_id = $4, sale_line_id = $5, updated_at = NOW() WHERE id = $1`,
		r.ID, r.Quantity, string(r.Status), nullInt(r.SaleOrderID), nullInt(r.SaleLineID))
	if err != nil {
		return fmt.Errorf("postgres: update reservation %d: %w", r.ID, err)
	}
	return nil
}

func (t *txStore) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, log)
}
