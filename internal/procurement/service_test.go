package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{keys: map[string]string{}}
}

func (c *memoryClaims) CheckAndInsert(_ context.Context, key, module string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	c.keys[key] = module
	return nil
}

func (c *memoryClaims) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func registerInput(productID int64, qty int) RegisterInput {
	return RegisterInput{
		Number:       "PO-2024-001",
		Currency:     "usd",
		ExchangeRate: decimal.NewFromInt(1),
		ShippingCost: decimal.RequireFromString("10.00"),
		TaxCost:      decimal.RequireFromString("2.50"),
		Lines:        []LineInput{{ProductID: productID, Quantity: qty, UnitCost: decimal.RequireFromString("20.00")}},
	}
}

func TestRegisterOrderCreatesInTransitUnits(t *testing.T) {
	store := memory.New()
	p := store.PutProduct(inventory.Product{SKU: "FIG"})
	svc := NewService(store, newMemoryClaims(), nil)

	res, err := svc.RegisterOrder(context.Background(), registerInput(p.ID, 3), 7)
	require.NoError(t, err)
	assert.Equal(t, inventory.PurchaseOrdered, res.Order.Status)
	assert.Equal(t, "USD", res.Order.Currency)
	assert.True(t, decimal.RequireFromString("60").Equal(res.Order.Subtotal))
	assert.True(t, decimal.RequireFromString("72.50").Equal(res.Order.Total))
	assert.Equal(t, 3, res.UnitsCreated)
	require.Len(t, res.Lines, 1)

	units := store.Units(p.ID)
	require.Len(t, units, 3)
	for _, u := range units {
		assert.Equal(t, inventory.StatusInTransit, u.Status)
		assert.Equal(t, inventory.ConditionBrandNew, u.Condition)
		assert.Equal(t, res.Lines[0].ID, u.PurchaseLineID)
	}

	audit := store.AuditLogs()
	require.Len(t, audit, 1)
	assert.Equal(t, "purchase_order.registered", audit[0].Action)
	assert.Equal(t, int64(7), audit[0].ActorID)
}

func TestRegisterOrderRejectsDuplicateNumber(t *testing.T) {
	store := memory.New()
	p := store.PutProduct(inventory.Product{SKU: "FIG"})
	svc := NewService(store, newMemoryClaims(), nil)

	_, err := svc.RegisterOrder(context.Background(), registerInput(p.ID, 1), 1)
	require.NoError(t, err)
	_, err = svc.RegisterOrder(context.Background(), registerInput(p.ID, 1), 1)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Len(t, store.Units(p.ID), 1)
}

func TestRegisterOrderReleasesKeyOnFailure(t *testing.T) {
	store := memory.New()
	claims := newMemoryClaims()
	svc := NewService(store, claims, nil)

	_, err := svc.RegisterOrder(context.Background(), registerInput(404, 1), 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, claims.keys)

	p := store.PutProduct(inventory.Product{SKU: "FIG"})
	_, err = svc.RegisterOrder(context.Background(), registerInput(p.ID, 1), 1)
	require.NoError(t, err)
}

func TestRegisterOrderValidation(t *testing.T) {
	svc := NewService(memory.New(), nil, nil)
	cases := map[string]RegisterInput{
		"missing number": {Lines: []LineInput{{ProductID: 1, Quantity: 1}}},
		"no lines":       {Number: "PO-1"},
		"zero quantity":  {Number: "PO-1", Lines: []LineInput{{ProductID: 1, Quantity: 0}}},
		"bad currency":   {Number: "PO-1", Currency: "RUPIAH", Lines: []LineInput{{ProductID: 1, Quantity: 1}}},
		"negative cost":  {Number: "PO-1", Lines: []LineInput{{ProductID: 1, Quantity: 1, UnitCost: decimal.NewFromInt(-1)}}},
		"negative tax":   {Number: "PO-1", TaxCost: decimal.NewFromInt(-1), Lines: []LineInput{{ProductID: 1, Quantity: 1}}},
	}
	for name, in := range cases {
		_, err := svc.RegisterOrder(context.Background(), in, 1)
		assert.ErrorIs(t, err, shared.ErrValidation, name)
	}
}

func TestReceiveAdvancesUnits(t *testing.T) {
	store := memory.New()
	figure := store.PutProduct(inventory.Product{SKU: "FIG"})
	kit := store.PutProduct(inventory.Product{SKU: "KIT"})
	svc := NewService(store, nil, nil)

	in := registerInput(figure.ID, 2)
	in.Lines = append(in.Lines, LineInput{ProductID: kit.ID, Quantity: 1, UnitCost: decimal.NewFromInt(5)})
	reg, err := svc.RegisterOrder(context.Background(), in, 1)
	require.NoError(t, err)

	// one figure is pre-reserved, the kit was written off in transit
	figures := store.Units(figure.ID)
	kits := store.Units(kit.ID)
	err = store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		u := figures[0]
		u.Status = inventory.StatusPreReserved
		u.SaleOrderID, u.SaleLineID = 900, 901
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		k := kits[0]
		k.Status = inventory.StatusLost
		return tx.UpdateUnit(ctx, k)
	})
	require.NoError(t, err)

	res, err := svc.Receive(context.Background(), reg.Order.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, inventory.PurchaseDelivered, res.Order.Status)
	assert.Equal(t, 2, res.UnitsReceived)
	assert.Equal(t, 1, res.UnitsSkipped)
	assert.Equal(t, []int64{figure.ID}, res.ProductIDs)

	counts, err := store.CountByStatus(context.Background(), figure.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusCounts{inventory.StatusReserved: 1, inventory.StatusAvailable: 1}, counts)

	_, err = svc.Receive(context.Background(), reg.Order.ID, 2)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestReceiveUnknownOrder(t *testing.T) {
	svc := NewService(memory.New(), nil, nil)
	_, err := svc.Receive(context.Background(), 77, 1)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}
