package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

var errReadOnly = errors.New("memory: write outside transaction")

// view reads and writes one state. Transactions get a writable view of
// their private copy; Store reads go through a read-only view.
type view struct {
	st       *state
	now      func() time.Time
	readOnly bool
}

func (v *view) writable() error {
	if v.readOnly {
		return errReadOnly
	}
	return nil
}

func (v *view) GetProduct(_ context.Context, id int64) (inventory.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return inventory.Product{}, shared.NotFoundf("product %d", id)
	}
	return p, nil
}

func (v *view) CountFreeUnits(_ context.Context, productID int64, cond inventory.Condition) (int, error) {
	n := 0
	for _, u := range v.st.units {
		if u.ProductID == productID && u.Status == inventory.StatusAvailable && !u.Linked() && (cond == "" || u.Condition == cond) {
			n++
		}
	}
	return n, nil
}

func (v *view) CountByStatus(_ context.Context, productID int64) (inventory.StatusCounts, error) {
	counts := inventory.StatusCounts{}
	for _, u := range v.st.units {
		if u.ProductID == productID {
			counts[u.Status]++
		}
	}
	return counts, nil
}

func (v *view) GetUnit(_ context.Context, id int64) (inventory.Unit, error) {
	u, ok := v.st.units[id]
	if !ok {
		return inventory.Unit{}, shared.NotFoundf("unit %d", id)
	}
	return u, nil
}

func (v *view) ListFreeUnits(_ context.Context, q inventory.UnitQuery) ([]inventory.Unit, error) {
	rank := make(map[inventory.UnitStatus]int, len(q.Statuses))
	for i, s := range q.Statuses {
		rank[s] = i
	}
	var out []inventory.Unit
	for _, u := range v.st.units {
		if u.ProductID != q.ProductID || u.Linked() {
			continue
		}
		if _, ok := rank[u.Status]; !ok {
			continue
		}
		if q.Condition != "" && u.Condition != q.Condition {
			continue
		}
		if _, skip := q.Exclude[u.ID]; skip {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if rank[a.Status] != rank[b.Status] {
			return rank[a.Status] < rank[b.Status]
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (v *view) ListUnitsByPurchaseLine(_ context.Context, lineID int64) ([]inventory.Unit, error) {
	return v.st.unitsWhere(func(u inventory.Unit) bool { return u.PurchaseLineID == lineID }), nil
}

func (v *view) ListUnitsBySaleOrder(_ context.Context, orderID int64) ([]inventory.Unit, error) {
	return v.st.unitsWhere(func(u inventory.Unit) bool { return u.SaleOrderID == orderID }), nil
}

func (v *view) CountAssigned(_ context.Context, saleLineID int64) (int, error) {
	return v.st.countAssigned(saleLineID), nil
}

func (v *view) GetSaleOrder(_ context.Context, id int64) (inventory.SaleOrder, error) {
	o, ok := v.st.saleOrders[id]
	if !ok {
		return inventory.SaleOrder{}, shared.NotFoundf("sale order %d", id)
	}
	return o, nil
}

func (v *view) ListSaleLines(_ context.Context, orderID int64) ([]inventory.SaleLine, error) {
	var out []inventory.SaleLine
	for _, l := range v.st.saleLines {
		if l.SaleOrderID == orderID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) FindSaleOrderByToken(_ context.Context, partyID int64, token string) (inventory.SaleOrder, bool, error) {
	if token == "" {
		return inventory.SaleOrder{}, false, nil
	}
	for _, o := range v.st.saleOrders {
		if o.PartyID == partyID && o.CheckoutToken == token {
			return o, true, nil
		}
	}
	return inventory.SaleOrder{}, false, nil
}

func (v *view) ListActiveSaleLines(_ context.Context, filter inventory.SaleLineFilter) ([]inventory.SaleLineDemand, error) {
	var out []inventory.SaleLineDemand
	for _, l := range v.st.saleLines {
		if filter.ProductID != 0 && l.ProductID != filter.ProductID {
			continue
		}
		order, ok := v.st.saleOrders[l.SaleOrderID]
		if !ok || !order.Status.IsActive() {
			continue
		}
		out = append(out, inventory.SaleLineDemand{Line: l, Assigned: v.st.countAssigned(l.ID), OrderedAt: order.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.OrderedAt.Equal(b.OrderedAt) {
			return a.OrderedAt.Before(b.OrderedAt)
		}
		if a.Line.SaleOrderID != b.Line.SaleOrderID {
			return a.Line.SaleOrderID < b.Line.SaleOrderID
		}
		return a.Line.ID < b.Line.ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v *view) GetPurchaseOrder(_ context.Context, id int64) (inventory.PurchaseOrder, error) {
	po, ok := v.st.purchaseOrders[id]
	if !ok {
		return inventory.PurchaseOrder{}, shared.NotFoundf("purchase order %d", id)
	}
	return po, nil
}

func (v *view) ListPurchaseLines(_ context.Context, orderID int64) ([]inventory.PurchaseLine, error) {
	var out []inventory.PurchaseLine
	for _, l := range v.st.purchaseLines {
		if l.PurchaseOrderID == orderID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) ListPurchaseOrderIDsByProduct(_ context.Context, productID int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	var out []int64
	for _, l := range v.st.purchaseLines {
		if l.ProductID != productID {
			continue
		}
		if _, dup := seen[l.PurchaseOrderID]; dup {
			continue
		}
		seen[l.PurchaseOrderID] = struct{}{}
		out = append(out, l.PurchaseOrderID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (v *view) ListPendingReservations(_ context.Context, productID int64) ([]inventory.PreorderReservation, error) {
	var out []inventory.PreorderReservation
	for _, r := range v.st.reservations {
		if r.ProductID == productID && r.Status == inventory.ReservationPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservedAt.Equal(out[j].ReservedAt) {
			return out[i].ReservedAt.Before(out[j].ReservedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) ListReservationsBySaleOrder(_ context.Context, orderID int64) ([]inventory.PreorderReservation, error) {
	var out []inventory.PreorderReservation
	for _, r := range v.st.reservations {
		if r.SaleOrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetBatch(_ context.Context, id int64) (inventory.Batch, error) {
	b, ok := v.st.batches[id]
	if !ok {
		return inventory.Batch{}, shared.NotFoundf("adjustment batch %d", id)
	}
	for _, l := range v.st.adjLines {
		if l.BatchID == id {
			b.Lines = append(b.Lines, l)
		}
	}
	sort.Slice(b.Lines, func(i, j int) bool { return b.Lines[i].ID < b.Lines[j].ID })
	for _, e := range v.st.entries {
		if e.BatchID == id {
			b.Entries = append(b.Entries, e)
		}
	}
	sort.Slice(b.Entries, func(i, j int) bool { return b.Entries[i].ID < b.Entries[j].ID })
	return b, nil
}

func (v *view) ListReconcileRows(_ context.Context, afterID int64, limit int) ([]inventory.ReconcileRow, error) {
	units := v.st.unitsWhere(func(u inventory.Unit) bool { return u.ID > afterID && !u.Status.IsTerminal() })
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	rows := make([]inventory.ReconcileRow, 0, len(units))
	for _, u := range units {
		row := inventory.ReconcileRow{Unit: u}
		if po, ok := v.st.purchaseOrders[u.PurchaseOrderID]; ok {
			row.PurchaseStatus = po.Status
		}
		if so, ok := v.st.saleOrders[u.SaleOrderID]; ok {
			row.SaleStatus = so.Status
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (v *view) LockFreeUnits(ctx context.Context, q inventory.UnitQuery) ([]inventory.Unit, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	return v.ListFreeUnits(ctx, q)
}

func (v *view) LockUnits(_ context.Context, ids []int64) ([]inventory.Unit, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	out := make([]inventory.Unit, 0, len(ids))
	for _, id := range ids {
		if u, ok := v.st.units[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) LockSaleOrder(ctx context.Context, id int64) (inventory.SaleOrder, error) {
	if err := v.writable(); err != nil {
		return inventory.SaleOrder{}, err
	}
	return v.GetSaleOrder(ctx, id)
}

func (v *view) LockPurchaseOrder(ctx context.Context, id int64) (inventory.PurchaseOrder, error) {
	if err := v.writable(); err != nil {
		return inventory.PurchaseOrder{}, err
	}
	return v.GetPurchaseOrder(ctx, id)
}

func (v *view) LockBatch(ctx context.Context, id int64) (inventory.Batch, error) {
	if err := v.writable(); err != nil {
		return inventory.Batch{}, err
	}
	return v.GetBatch(ctx, id)
}

func (v *view) LockPendingReservations(ctx context.Context, productID int64) ([]inventory.PreorderReservation, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	return v.ListPendingReservations(ctx, productID)
}

func (v *view) InsertUnits(_ context.Context, units []inventory.Unit) ([]inventory.Unit, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	out := make([]inventory.Unit, 0, len(units))
	for _, u := range units {
		u.ID = v.st.nextID()
		now := v.now()
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if u.StatusChangedAt.IsZero() {
			u.StatusChangedAt = now
		}
		v.st.units[u.ID] = u
		out = append(out, u)
	}
	return out, nil
}

func (v *view) UpdateUnit(_ context.Context, unit inventory.Unit) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.st.units[unit.ID]; !ok {
		return shared.NotFoundf("unit %d", unit.ID)
	}
	v.st.units[unit.ID] = unit
	return nil
}

func (v *view) DeleteUnits(_ context.Context, ids []int64) error {
	if err := v.writable(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(v.st.units, id)
	}
	kept := v.st.assignments[:0]
	for _, a := range v.st.assignments {
		if _, ok := v.st.units[a.UnitID]; ok {
			kept = append(kept, a)
		}
	}
	v.st.assignments = kept
	return nil
}

func (v *view) InsertSaleOrder(_ context.Context, order inventory.SaleOrder) (inventory.SaleOrder, error) {
	if err := v.writable(); err != nil {
		return inventory.SaleOrder{}, err
	}
	if order.CheckoutToken != "" {
		for _, o := range v.st.saleOrders {
			if o.PartyID == order.PartyID && o.CheckoutToken == order.CheckoutToken {
				return inventory.SaleOrder{}, shared.ErrIdempotencyConflict
			}
		}
	}
	order.ID = v.st.nextID()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = v.now()
	}
	v.st.saleOrders[order.ID] = order
	return order, nil
}

func (v *view) UpdateSaleOrder(_ context.Context, order inventory.SaleOrder) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.st.saleOrders[order.ID]; !ok {
		return shared.NotFoundf("sale order %d", order.ID)
	}
	v.st.saleOrders[order.ID] = order
	return nil
}

func (v *view) InsertSaleLine(_ context.Context, line inventory.SaleLine) (inventory.SaleLine, error) {
	if err := v.writable(); err != nil {
		return inventory.SaleLine{}, err
	}
	if _, ok := v.st.saleOrders[line.SaleOrderID]; !ok {
		return inventory.SaleLine{}, shared.NotFoundf("sale order %d", line.SaleOrderID)
	}
	line.ID = v.st.nextID()
	v.st.saleLines[line.ID] = line
	return line, nil
}

func (v *view) InsertAddress(_ context.Context, orderID int64, addr inventory.Address) error {
	if err := v.writable(); err != nil {
		return err
	}
	v.st.addresses[orderID] = addr
	return nil
}

func (v *view) InsertPayment(_ context.Context, payment inventory.Payment) (inventory.Payment, error) {
	if err := v.writable(); err != nil {
		return inventory.Payment{}, err
	}
	payment.ID = v.st.nextID()
	v.st.payments[payment.ID] = payment
	return payment, nil
}

func (v *view) InsertAssignmentLog(_ context.Context, log inventory.AssignmentLog) error {
	if err := v.writable(); err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = v.now()
	}
	v.st.assignments = append(v.st.assignments, log)
	return nil
}

func (v *view) InsertReservation(_ context.Context, r inventory.PreorderReservation) (inventory.PreorderReservation, error) {
	if err := v.writable(); err != nil {
		return inventory.PreorderReservation{}, err
	}
	r.ID = v.st.nextID()
	if r.ReservedAt.IsZero() {
		r.ReservedAt = v.now()
	}
	v.st.reservations[r.ID] = r
	return r, nil
}

func (v *view) UpdateReservation(_ context.Context, r inventory.PreorderReservation) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.st.reservations[r.ID]; !ok {
		return shared.NotFoundf("preorder reservation %d", r.ID)
	}
	v.st.reservations[r.ID] = r
	return nil
}

func (v *view) InsertPurchaseOrder(_ context.Context, po inventory.PurchaseOrder) (inventory.PurchaseOrder, error) {
	if err := v.writable(); err != nil {
		return inventory.PurchaseOrder{}, err
	}
	po.ID = v.st.nextID()
	if po.CreatedAt.IsZero() {
		po.CreatedAt = v.now()
	}
	v.st.purchaseOrders[po.ID] = po
	return po, nil
}

func (v *view) UpdatePurchaseOrder(_ context.Context, po inventory.PurchaseOrder) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.st.purchaseOrders[po.ID]; !ok {
		return shared.NotFoundf("purchase order %d", po.ID)
	}
	v.st.purchaseOrders[po.ID] = po
	return nil
}

func (v *view) InsertPurchaseLine(_ context.Context, line inventory.PurchaseLine) (inventory.PurchaseLine, error) {
	if err := v.writable(); err != nil {
		return inventory.PurchaseLine{}, err
	}
	line.ID = v.st.nextID()
	v.st.purchaseLines[line.ID] = line
	return line, nil
}

func (v *view) UpdatePurchaseLine(_ context.Context, line inventory.PurchaseLine) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.st.purchaseLines[line.ID]; !ok {
		return shared.NotFoundf("purchase line %d", line.ID)
	}
	v.st.purchaseLines[line.ID] = line
	return nil
}

func (v *view) InsertBatch(_ context.Context, batch inventory.Batch) (inventory.Batch, error) {
	if err := v.writable(); err != nil {
		return inventory.Batch{}, err
	}
	for _, b := range v.st.batches {
		if b.Reference == batch.Reference {
			return inventory.Batch{}, shared.ErrIdempotencyConflict
		}
	}
	batch.ID = v.st.nextID()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = v.now()
	}
	lines := batch.Lines
	batch.Lines = nil
	batch.Entries = nil
	v.st.batches[batch.ID] = batch
	for i := range lines {
		lines[i].ID = v.st.nextID()
		lines[i].BatchID = batch.ID
		v.st.adjLines[lines[i].ID] = lines[i]
	}
	batch.Lines = lines
	return batch, nil
}

func (v *view) UpdateBatch(_ context.Context, batch inventory.Batch) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.st.batches[batch.ID]; !ok {
		return shared.NotFoundf("adjustment batch %d", batch.ID)
	}
	batch.Lines = nil
	batch.Entries = nil
	v.st.batches[batch.ID] = batch
	return nil
}

func (v *view) InsertEntries(_ context.Context, entries []inventory.AdjustmentEntry) error {
	if err := v.writable(); err != nil {
		return err
	}
	for _, e := range entries {
		e.ID = v.st.nextID()
		v.st.entries[e.ID] = e
	}
	return nil
}

func (v *view) DeleteEntries(_ context.Context, batchID int64) error {
	if err := v.writable(); err != nil {
		return err
	}
	for id, e := range v.st.entries {
		if e.BatchID == batchID {
			delete(v.st.entries, id)
		}
	}
	return nil
}

func (v *view) RecordAudit(_ context.Context, log shared.AuditLog) error {
	if err := v.writable(); err != nil {
		return err
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = v.now()
	}
	v.st.audit = append(v.st.audit, log)
	return nil
}

var _ inventory.Tx = (*view)(nil)
