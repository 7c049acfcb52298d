package adjustments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

func setup(t *testing.T, available int) (*memory.Store, *Service, inventory.Product, []inventory.Unit) {
	t.Helper()
	store := memory.New()
	p := store.PutProduct(inventory.Product{SKU: "FIG"})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	units := make([]inventory.Unit, available)
	for i := range units {
		units[i] = inventory.Unit{ProductID: p.ID, Status: inventory.StatusAvailable, Condition: inventory.ConditionMint, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
	}
	var created []inventory.Unit
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		var err error
		created, err = tx.InsertUnits(ctx, units)
		return err
	})
	require.NoError(t, err)
	return store, NewService(store, nil), p, created
}

func statusCounts(t *testing.T, store *memory.Store, productID int64) inventory.StatusCounts {
	t.Helper()
	counts, err := store.CountByStatus(context.Background(), productID)
	require.NoError(t, err)
	return counts
}

func TestApplyThenReverseRestoresStock(t *testing.T) {
	store, svc, p, units := setup(t, 3)
	before := statusCounts(t, store, p.ID)

	batch, err := svc.CreateBatch(context.Background(), CreateInput{Note: "cycle count", Lines: []LineInput{
		{ProductID: p.ID, Quantity: 2, Reason: inventory.ReasonFound, UnitCost: decimal.RequireFromString("12.50")},
		{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonDamaged},
		{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonLost},
	}}, 9)
	require.NoError(t, err)
	assert.Equal(t, inventory.BatchDraft, batch.Status)
	assert.Contains(t, batch.Reference, "ADJ-")

	applied, err := svc.Apply(context.Background(), batch.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 2, applied.UnitsCreated)
	assert.Equal(t, 2, applied.UnitsMarked)
	assert.Equal(t, inventory.BatchApplied, applied.Batch.Status)
	assert.Equal(t, int64(9), applied.Batch.AppliedBy)

	counts := statusCounts(t, store, p.ID)
	assert.Equal(t, 3, counts[inventory.StatusAvailable])
	assert.Equal(t, 1, counts[inventory.StatusDamaged])
	assert.Equal(t, 1, counts[inventory.StatusLost])

	// the oldest units are marked first
	damaged, err := store.GetUnit(context.Background(), units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusDamaged, damaged.Status)
	lost, err := store.GetUnit(context.Background(), units[1].ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusLost, lost.Status)

	for _, u := range store.Units(p.ID) {
		if u.AdjustmentRef == batch.Reference {
			assert.True(t, decimal.RequireFromString("12.50").Equal(u.PurchaseCost))
		}
	}

	stored, err := svc.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 4)

	reversed, err := svc.Reverse(context.Background(), batch.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 2, reversed.UnitsDeleted)
	assert.Equal(t, 2, reversed.UnitsRestored)
	assert.Equal(t, inventory.BatchDraft, reversed.Batch.Status)

	assert.Equal(t, before, statusCounts(t, store, p.ID))
	stored, err = svc.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Entries)

	actions := []string{}
	for _, a := range store.AuditLogs() {
		actions = append(actions, a.Action)
	}
	assert.Equal(t, []string{"adjustment.created", "adjustment.applied", "adjustment.reversed"}, actions)
}

func TestApplyRejectsWhenPoolTooSmall(t *testing.T) {
	store, svc, p, _ := setup(t, 2)
	batch, err := svc.CreateBatch(context.Background(), CreateInput{Lines: []LineInput{
		{ProductID: p.ID, Quantity: 5, Reason: inventory.ReasonFound},
		{ProductID: p.ID, Quantity: 2, Reason: inventory.ReasonScrap},
		{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonMarketing},
	}}, 1)
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), batch.ID, 1)
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, shared.ReasonPoolTooSmall, short.Reason)
	assert.Equal(t, 3, short.Requested)
	assert.Equal(t, 2, short.Available)

	counts := statusCounts(t, store, p.ID)
	assert.Equal(t, inventory.StatusCounts{inventory.StatusAvailable: 2}, counts)
	got, err := svc.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.BatchDraft, got.Status)
}

func TestApplyTwiceFails(t *testing.T) {
	_, svc, p, _ := setup(t, 1)
	batch, err := svc.CreateBatch(context.Background(), CreateInput{Lines: []LineInput{{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonRecount}}}, 1)
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), batch.ID, 1)
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), batch.ID, 1)
	require.ErrorIs(t, err, shared.ErrAlreadyApplied)
}

func TestApplyEmptyBatch(t *testing.T) {
	_, svc, _, _ := setup(t, 0)
	batch, err := svc.CreateBatch(context.Background(), CreateInput{Note: "empty"}, 1)
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), batch.ID, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReverseRequiresApplied(t *testing.T) {
	_, svc, p, _ := setup(t, 0)
	batch, err := svc.CreateBatch(context.Background(), CreateInput{Lines: []LineInput{{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonFound}}}, 1)
	require.NoError(t, err)
	_, err = svc.Reverse(context.Background(), batch.ID, 1)
	require.ErrorIs(t, err, shared.ErrNotApplied)
}

func TestReverseBlockedByConsumedUnit(t *testing.T) {
	store, svc, p, _ := setup(t, 0)
	batch, err := svc.CreateBatch(context.Background(), CreateInput{Lines: []LineInput{{ProductID: p.ID, Quantity: 2, Reason: inventory.ReasonFound}}}, 1)
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), batch.ID, 1)
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		order, err := tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 1, Status: inventory.SalePending})
		if err != nil {
			return err
		}
		line, err := tx.InsertSaleLine(ctx, inventory.SaleLine{SaleOrderID: order.ID, ProductID: p.ID, Quantity: 1})
		if err != nil {
			return err
		}
		units, err := tx.LockFreeUnits(ctx, inventory.UnitQuery{ProductID: p.ID, Statuses: []inventory.UnitStatus{inventory.StatusAvailable}, Limit: 1})
		if err != nil {
			return err
		}
		_, err = inventory.ReserveUnits(ctx, tx, units, inventory.SaleDemand{OrderID: order.ID, LineID: line.ID}, inventory.SourceCheckout, time.Now())
		return err
	})
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), batch.ID, 1)
	require.ErrorIs(t, err, shared.ErrNotReversible)
	assert.Len(t, store.Units(p.ID), 2)
	got, err := svc.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.BatchApplied, got.Status)
}

func TestCreateBatchValidation(t *testing.T) {
	_, svc, p, _ := setup(t, 0)
	cases := map[string]CreateInput{
		"zero quantity":   {Lines: []LineInput{{ProductID: p.ID, Quantity: 0, Reason: inventory.ReasonFound}}},
		"unknown reason":  {Lines: []LineInput{{ProductID: p.ID, Quantity: 1, Reason: "stolen"}}},
		"cost on decease": {Lines: []LineInput{{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonLost, UnitCost: decimal.NewFromInt(3)}}},
		"negative cost":   {Lines: []LineInput{{ProductID: p.ID, Quantity: 1, Reason: inventory.ReasonFound, UnitCost: decimal.NewFromInt(-3)}}},
	}
	for name, in := range cases {
		_, err := svc.CreateBatch(context.Background(), in, 1)
		assert.ErrorIs(t, err, shared.ErrValidation, name)
	}

	_, err := svc.CreateBatch(context.Background(), CreateInput{Lines: []LineInput{{ProductID: 999, Quantity: 1, Reason: inventory.ReasonFound}}}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
