package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
)

type world struct {
	store     *memory.Store
	product   inventory.Product
	ordered   inventory.PurchaseOrder
	delivered inventory.PurchaseOrder
	draft     inventory.PurchaseOrder
	pending   inventory.SaleOrder
	confirmed inventory.SaleOrder
	cancelled inventory.SaleOrder
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{store: memory.New()}
	w.product = w.store.PutProduct(inventory.Product{SKU: "FIG"})
	err := w.store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		var err error
		if w.ordered, err = tx.InsertPurchaseOrder(ctx, inventory.PurchaseOrder{Number: "PO-O", Status: inventory.PurchaseOrdered}); err != nil {
			return err
		}
		if w.delivered, err = tx.InsertPurchaseOrder(ctx, inventory.PurchaseOrder{Number: "PO-D", Status: inventory.PurchaseDelivered}); err != nil {
			return err
		}
		if w.draft, err = tx.InsertPurchaseOrder(ctx, inventory.PurchaseOrder{Number: "PO-X", Status: inventory.PurchaseDraft}); err != nil {
			return err
		}
		if w.pending, err = tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 1, Status: inventory.SalePending}); err != nil {
			return err
		}
		if w.confirmed, err = tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 1, Status: inventory.SaleConfirmed}); err != nil {
			return err
		}
		w.cancelled, err = tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 1, Status: inventory.SaleCancelled})
		return err
	})
	require.NoError(t, err)
	return w
}

func (w *world) unit(t *testing.T, u inventory.Unit) inventory.Unit {
	t.Helper()
	u.ProductID = w.product.ID
	var out []inventory.Unit
	err := w.store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		var err error
		out, err = tx.InsertUnits(ctx, []inventory.Unit{u})
		return err
	})
	require.NoError(t, err)
	return out[0]
}

func (w *world) get(t *testing.T, id int64) inventory.Unit {
	t.Helper()
	u, err := w.store.GetUnit(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestSweepAppliesDecisionTable(t *testing.T) {
	w := newWorld(t)
	inTransitPending := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: w.ordered.ID, SaleOrderID: w.pending.ID, SaleLineID: 1})
	deliveredFree := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: w.delivered.ID})
	deliveredConfirmed := w.unit(t, inventory.Unit{Status: inventory.StatusReserved, PurchaseOrderID: w.delivered.ID, SaleOrderID: w.confirmed.ID, SaleLineID: 2})
	cancelledLink := w.unit(t, inventory.Unit{Status: inventory.StatusReserved, PurchaseOrderID: w.delivered.ID, SaleOrderID: w.cancelled.ID, SaleLineID: 3})
	adjustment := w.unit(t, inventory.Unit{Status: inventory.StatusAvailable})
	draft := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: w.draft.ID})
	terminal := w.unit(t, inventory.Unit{Status: inventory.StatusDamaged, PurchaseOrderID: w.ordered.ID})

	svc := NewService(w.store, nil, nil)
	res, err := svc.Sweep(context.Background(), SweepOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 6, res.Scanned)
	assert.Equal(t, 4, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Done)
	assert.Equal(t, draft.ID, res.Cursor)

	assert.Equal(t, inventory.StatusPreReserved, w.get(t, inTransitPending.ID).Status)
	assert.Equal(t, inventory.StatusAvailable, w.get(t, deliveredFree.ID).Status)
	assert.Equal(t, inventory.StatusSold, w.get(t, deliveredConfirmed.ID).Status)

	cleared := w.get(t, cancelledLink.ID)
	assert.Equal(t, inventory.StatusAvailable, cleared.Status)
	assert.False(t, cleared.Linked())

	assert.Equal(t, inventory.StatusAvailable, w.get(t, adjustment.ID).Status)
	assert.Equal(t, inventory.StatusInTransit, w.get(t, draft.ID).Status)
	assert.Equal(t, inventory.StatusDamaged, w.get(t, terminal.ID).Status)

	audit := w.store.AuditLogs()
	assert.Len(t, audit, 4)
}

func TestSweepIsIdempotent(t *testing.T) {
	w := newWorld(t)
	w.unit(t, inventory.Unit{Status: inventory.StatusAvailable, PurchaseOrderID: w.ordered.ID})
	svc := NewService(w.store, nil, nil)

	first, err := svc.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)

	second, err := svc.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
}

func TestSweepResumesFromCursor(t *testing.T) {
	w := newWorld(t)
	a := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: w.delivered.ID})
	b := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: w.delivered.ID})
	svc := NewService(w.store, nil, nil)

	res, err := svc.Sweep(context.Background(), SweepOptions{BatchSize: 1, MaxBatches: 1})
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, a.ID, res.Cursor)
	assert.Equal(t, inventory.StatusInTransit, w.get(t, b.ID).Status)

	res, err = svc.Sweep(context.Background(), SweepOptions{BatchSize: 1, AfterID: res.Cursor})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, inventory.StatusAvailable, w.get(t, b.ID).Status)
}

func TestSweepReportsMissingPurchaseOrder(t *testing.T) {
	w := newWorld(t)
	broken := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: 9999})
	ok := w.unit(t, inventory.Unit{Status: inventory.StatusInTransit, PurchaseOrderID: w.delivered.ID})

	res, err := NewService(w.store, nil, nil).Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "unit")
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, inventory.StatusInTransit, w.get(t, broken.ID).Status)
	assert.Equal(t, inventory.StatusAvailable, w.get(t, ok.ID).Status)
}
