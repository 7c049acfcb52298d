package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	sent []Assignment
	err  error
}

func (n *recordingNotifier) NotifyAssignment(_ context.Context, a Assignment) error {
	n.sent = append(n.sent, a)
	return n.err
}

func addUnits(t *testing.T, s *memory.Store, productID int64, status inventory.UnitStatus, n int) []inventory.Unit {
	t.Helper()
	units := make([]inventory.Unit, n)
	for i := range units {
		units[i] = inventory.Unit{ProductID: productID, Status: status, PurchaseCost: decimal.NewFromInt(10), CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
	}
	var out []inventory.Unit
	err := s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		var err error
		out, err = tx.InsertUnits(ctx, units)
		return err
	})
	require.NoError(t, err)
	return out
}

func addOrder(t *testing.T, s *memory.Store, productID int64, qty, preorder int, at time.Time) (inventory.SaleOrder, inventory.SaleLine) {
	t.Helper()
	var order inventory.SaleOrder
	var line inventory.SaleLine
	err := s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		var err error
		order, err = tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 7, Status: inventory.SalePending, CreatedAt: at})
		if err != nil {
			return err
		}
		line, err = tx.InsertSaleLine(ctx, inventory.SaleLine{SaleOrderID: order.ID, ProductID: productID, Quantity: qty, PreorderQty: preorder})
		return err
	})
	require.NoError(t, err)
	return order, line
}

func countStatus(s *memory.Store, productID int64, status inventory.UnitStatus) int {
	n := 0
	for _, u := range s.Units(productID) {
		if u.Status == status {
			n++
		}
	}
	return n
}

func TestAutoAssignOldestOrderFirst(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A", Price: decimal.NewFromInt(20)})
	addUnits(t, s, p.ID, inventory.StatusAvailable, 3)
	newer, newerLine := addOrder(t, s, p.ID, 2, 0, t0.Add(time.Hour))
	older, olderLine := addOrder(t, s, p.ID, 2, 0, t0)

	notifier := &recordingNotifier{}
	engine := NewEngine(s, nil, WithNotifier(notifier), WithClock(func() time.Time { return t0 }))
	res, err := engine.AutoAssign(context.Background(), AutoAssignOptions{ProductID: p.ID})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Lines, 2)

	assert.Equal(t, older.ID, res.Lines[0].SaleOrderID)
	assert.Equal(t, 2, res.Lines[0].Assigned)
	assert.Equal(t, 0, res.Lines[0].Pending)
	assert.Equal(t, newer.ID, res.Lines[1].SaleOrderID)
	assert.Equal(t, 1, res.Lines[1].Assigned)
	assert.Equal(t, 1, res.Lines[1].Pending)
	assert.Equal(t, 3, res.TotalAssigned)
	assert.Equal(t, 1, res.TotalPending)

	assert.Equal(t, 3, countStatus(s, p.ID, inventory.StatusReserved))
	for _, u := range s.Units(p.ID) {
		assert.Contains(t, []int64{olderLine.ID, newerLine.ID}, u.SaleLineID)
	}
	logs := s.AssignmentLogs()
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, inventory.SourceAutoAssign, l.Source)
	}
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, older.ID, notifier.sent[0].SaleOrderID)
}

func TestAutoAssignHonoursLineCondition(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A", Price: decimal.NewFromInt(20)})
	var loose, mint inventory.Unit
	err := s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		units, err := tx.InsertUnits(ctx, []inventory.Unit{
			{ProductID: p.ID, Status: inventory.StatusAvailable, Condition: inventory.ConditionLoose, CreatedAt: t0},
			{ProductID: p.ID, Status: inventory.StatusAvailable, Condition: inventory.ConditionMint, CreatedAt: t0.Add(time.Minute)},
		})
		if err != nil {
			return err
		}
		loose, mint = units[0], units[1]
		return nil
	})
	require.NoError(t, err)

	var mintLine inventory.SaleLine
	err = s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		order, err := tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 7, Status: inventory.SalePending, CreatedAt: t0})
		if err != nil {
			return err
		}
		mintLine, err = tx.InsertSaleLine(ctx, inventory.SaleLine{SaleOrderID: order.ID, ProductID: p.ID, Quantity: 1, Condition: inventory.ConditionMint})
		return err
	})
	require.NoError(t, err)
	_, anyLine := addOrder(t, s, p.ID, 1, 0, t0.Add(time.Hour))

	engine := NewEngine(s, nil, WithClock(func() time.Time { return t0 }))
	res, err := engine.AutoAssign(context.Background(), AutoAssignOptions{ProductID: p.ID})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	assert.Equal(t, 2, res.TotalAssigned)

	got, err := s.GetUnit(context.Background(), mint.ID)
	require.NoError(t, err)
	assert.Equal(t, mintLine.ID, got.SaleLineID)
	got, err = s.GetUnit(context.Background(), loose.ID)
	require.NoError(t, err)
	assert.Equal(t, anyLine.ID, got.SaleLineID)
}

func TestAutoAssignLeavesConditionLineUncoveredWithoutMatch(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A", Price: decimal.NewFromInt(20)})
	addUnits(t, s, p.ID, inventory.StatusAvailable, 2)
	err := s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		order, err := tx.InsertSaleOrder(ctx, inventory.SaleOrder{PartyID: 7, Status: inventory.SalePending, CreatedAt: t0})
		if err != nil {
			return err
		}
		_, err = tx.InsertSaleLine(ctx, inventory.SaleLine{SaleOrderID: order.ID, ProductID: p.ID, Quantity: 1, Condition: inventory.ConditionMISB})
		return err
	})
	require.NoError(t, err)

	res, err := NewEngine(s, nil).AutoAssign(context.Background(), AutoAssignOptions{ProductID: p.ID})
	require.NoError(t, err)
	assert.Zero(t, res.TotalAssigned)
	assert.Equal(t, 2, countStatus(s, p.ID, inventory.StatusAvailable))
}

func TestAutoAssignSkipsCoveredAndPreorderQuantity(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A"})
	addUnits(t, s, p.ID, inventory.StatusAvailable, 5)
	_, line := addOrder(t, s, p.ID, 3, 2, t0)

	engine := NewEngine(s, nil)
	res, err := engine.AutoAssign(context.Background(), AutoAssignOptions{})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, line.ID, res.Lines[0].SaleLineID)
	assert.Equal(t, 1, res.Lines[0].Need)
	assert.Equal(t, 1, res.Lines[0].Assigned)

	res, err = engine.AutoAssign(context.Background(), AutoAssignOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Lines)
	assert.Equal(t, 4, countStatus(s, p.ID, inventory.StatusAvailable))
}

func TestAutoAssignDryRunDoesNotDoubleCount(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A"})
	addUnits(t, s, p.ID, inventory.StatusAvailable, 2)
	addOrder(t, s, p.ID, 2, 0, t0)
	addOrder(t, s, p.ID, 2, 0, t0.Add(time.Minute))

	notifier := &recordingNotifier{}
	engine := NewEngine(s, nil, WithNotifier(notifier))
	res, err := engine.AutoAssign(context.Background(), AutoAssignOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, 2, res.Lines[0].Assigned)
	assert.Equal(t, 0, res.Lines[1].Assigned)
	assert.Equal(t, 2, res.Lines[1].Pending)

	assert.Equal(t, 2, countStatus(s, p.ID, inventory.StatusAvailable))
	assert.Empty(t, s.AssignmentLogs())
	assert.Empty(t, notifier.sent)
}

func TestAutoAssignCollectsNotifierErrors(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A"})
	addUnits(t, s, p.ID, inventory.StatusAvailable, 1)
	addOrder(t, s, p.ID, 1, 0, t0)

	notifier := &recordingNotifier{err: errors.New("queue down")}
	engine := NewEngine(s, nil, WithNotifier(notifier))
	res, err := engine.AutoAssign(context.Background(), AutoAssignOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalAssigned)
	require.Len(t, res.Errors, 1)
	assert.ErrorContains(t, res.Errors[0], "queue down")
	assert.Equal(t, 1, countStatus(s, p.ID, inventory.StatusReserved))
}

func TestAutoAssignRejectsNegativeLimit(t *testing.T) {
	engine := NewEngine(memory.New(), nil)
	_, err := engine.AutoAssign(context.Background(), AutoAssignOptions{Limit: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReleaseOrderReturnsUnitsToPool(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A"})
	addUnits(t, s, p.ID, inventory.StatusAvailable, 2)
	addUnits(t, s, p.ID, inventory.StatusInTransit, 1)
	order, line := addOrder(t, s, p.ID, 3, 1, t0)

	err := s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		units, err := tx.LockFreeUnits(ctx, inventory.UnitQuery{ProductID: p.ID, Statuses: []inventory.UnitStatus{inventory.StatusAvailable, inventory.StatusInTransit}})
		if err != nil {
			return err
		}
		if _, err := inventory.ReserveUnits(ctx, tx, units, inventory.SaleDemand{OrderID: order.ID, LineID: line.ID}, inventory.SourceCheckout, t0); err != nil {
			return err
		}
		_, err = tx.InsertReservation(ctx, inventory.PreorderReservation{ProductID: p.ID, PartyID: 7, Quantity: 1, Status: inventory.ReservationPending, SaleOrderID: order.ID, SaleLineID: line.ID})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countStatus(s, p.ID, inventory.StatusPreReserved))

	engine := NewEngine(s, nil)
	res, err := engine.ReleaseOrder(context.Background(), order.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, res.UnitsReleased)
	assert.Equal(t, 1, res.ReservationsCancelled)
	assert.Equal(t, []int64{p.ID}, res.ProductIDs)

	assert.Equal(t, 2, countStatus(s, p.ID, inventory.StatusAvailable))
	assert.Equal(t, 1, countStatus(s, p.ID, inventory.StatusInTransit))
	for _, u := range s.Units(p.ID) {
		assert.False(t, u.Linked())
	}
	got, err := s.GetSaleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.SaleCancelled, got.Status)

	audit := s.AuditLogs()
	require.NotEmpty(t, audit)
	assert.Equal(t, "sale_order.released", audit[len(audit)-1].Action)
	assert.Equal(t, int64(5), audit[len(audit)-1].ActorID)

	_, err = engine.ReleaseOrder(context.Background(), order.ID, 5)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestReleaseOrderRejectsSoldUnits(t *testing.T) {
	s := memory.New()
	p := s.PutProduct(inventory.Product{SKU: "A"})
	order, line := addOrder(t, s, p.ID, 2, 0, t0)
	err := s.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		_, err := tx.InsertUnits(ctx, []inventory.Unit{
			{ProductID: p.ID, Status: inventory.StatusReserved, SaleOrderID: order.ID, SaleLineID: line.ID},
			{ProductID: p.ID, Status: inventory.StatusSold, SaleOrderID: order.ID, SaleLineID: line.ID},
		})
		return err
	})
	require.NoError(t, err)

	_, err = NewEngine(s, nil).ReleaseOrder(context.Background(), order.ID, 0)
	require.ErrorIs(t, err, ErrOrderCommitted)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	assert.Equal(t, 1, countStatus(s, p.ID, inventory.StatusReserved))
	got, err := s.GetSaleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.SalePending, got.Status)
}

func TestReleaseOrderNotFound(t *testing.T) {
	_, err := NewEngine(memory.New(), nil).ReleaseOrder(context.Background(), 404, 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
