package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

var fixedNow = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

type CheckoutSuite struct {
	suite.Suite
	store    *memory.Store
	svc      *Service
	figure   inventory.Product
	kit      inventory.Product
	cards    inventory.Product
	shipping ShippingConfig
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.store = memory.New(memory.WithClock(func() time.Time { return fixedNow }))
	s.figure = s.store.PutProduct(inventory.Product{SKU: "FIG", Price: decimal.RequireFromString("50.00"), AllowPreorder: true})
	s.kit = s.store.PutProduct(inventory.Product{SKU: "KIT", Price: decimal.RequireFromString("20.00"), AllowBackorder: true})
	s.cards = s.store.PutProduct(inventory.Product{SKU: "CARD", Price: decimal.RequireFromString("10.00")})
	s.shipping = ShippingConfig{FlatRate: decimal.NewFromInt(5), FreeOver: decimal.NewFromInt(100), VolumetricRate: decimal.RequireFromString("0.01")}
	s.svc = NewService(s.store, NewRegistry(s.shipping), nil, WithClock(func() time.Time { return fixedNow }))
}

func (s *CheckoutSuite) stock(productID int64, n int) {
	s.stockCondition(productID, inventory.ConditionMint, n)
}

// stockCondition adds n available units; later calls create newer units.
func (s *CheckoutSuite) stockCondition(productID int64, cond inventory.Condition, n int) {
	units := make([]inventory.Unit, n)
	for i := range units {
		units[i] = inventory.Unit{ProductID: productID, Status: inventory.StatusAvailable, Condition: cond}
	}
	err := s.store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		_, err := tx.InsertUnits(ctx, units)
		return err
	})
	s.Require().NoError(err)
}

func (s *CheckoutSuite) request(token string, lines ...LineRequest) Request {
	return Request{
		PartyID:          42,
		Lines:            lines,
		ShippingAddress:  inventory.Address{Recipient: "Rina", Line1: "Jl. Merdeka 1", City: "Bandung", Country: "ID"},
		ShippingMethod:   MethodFlat,
		PaymentMethod:    "bank_transfer",
		IdempotencyToken: token,
	}
}

func (s *CheckoutSuite) count(productID int64, status inventory.UnitStatus) int {
	n := 0
	for _, u := range s.store.Units(productID) {
		if u.Status == status {
			n++
		}
	}
	return n
}

func (s *CheckoutSuite) TestReservesImmediateStock() {
	s.stock(s.cards.ID, 3)

	res, err := s.svc.Checkout(context.Background(), s.request("t1", LineRequest{ProductID: s.cards.ID, Quantity: 2}))
	s.Require().NoError(err)
	s.False(res.Replayed)
	s.Len(res.ReservedUnitIDs, 2)
	s.Require().Len(res.Lines, 1)
	s.Equal(0, res.Lines[0].PreorderQty)
	s.True(decimal.RequireFromString("20.00").Equal(res.Order.Subtotal))
	s.True(decimal.RequireFromString("5").Equal(res.Order.ShippingCost))
	s.True(decimal.RequireFromString("25.00").Equal(res.Order.Total))
	s.Equal(inventory.SalePending, res.Order.Status)
	s.Equal(2, s.count(s.cards.ID, inventory.StatusReserved))

	payments := s.store.Payments(res.Order.ID)
	s.Require().Len(payments, 1)
	s.Equal(inventory.PaymentPending, payments[0].Status)
	s.True(res.Order.Total.Equal(payments[0].Amount))
	addr, ok := s.store.Address(res.Order.ID)
	s.Require().True(ok)
	s.Equal("Bandung", addr.City)

	for _, l := range s.store.AssignmentLogs() {
		s.Equal(inventory.SourceCheckout, l.Source)
	}
	audit := s.store.AuditLogs()
	s.Require().Len(audit, 1)
	s.Equal("sale_order.checkout", audit[0].Action)
}

func (s *CheckoutSuite) TestPreorderPortionQueuesReservation() {
	s.stock(s.figure.ID, 1)

	res, err := s.svc.Checkout(context.Background(), s.request("t1", LineRequest{ProductID: s.figure.ID, Quantity: 3}))
	s.Require().NoError(err)
	s.Len(res.ReservedUnitIDs, 1)
	s.Require().Len(res.Lines, 1)
	s.Equal(2, res.Lines[0].PreorderQty)
	s.Require().Len(res.Reservations, 1)
	s.Equal(2, res.Reservations[0].Quantity)
	s.Equal(res.Lines[0].ID, res.Reservations[0].SaleLineID)
	s.True(res.Reservations[0].ReservedAt.Equal(fixedNow))
	s.True(decimal.RequireFromString("150.00").Equal(res.Order.Subtotal))
}

func (s *CheckoutSuite) TestBackorderPortionRecordedOnLine() {
	res, err := s.svc.Checkout(context.Background(), s.request("t1", LineRequest{ProductID: s.kit.ID, Quantity: 2}))
	s.Require().NoError(err)
	s.Empty(res.ReservedUnitIDs)
	s.Empty(res.Reservations)
	s.Equal(2, res.Lines[0].BackorderQty)
}

func (s *CheckoutSuite) TestNoDeferralRejectsBeforeWriting() {
	s.stock(s.cards.ID, 1)

	_, err := s.svc.Checkout(context.Background(), s.request("t1",
		LineRequest{ProductID: s.figure.ID, Quantity: 1},
		LineRequest{ProductID: s.cards.ID, Quantity: 2}))
	var short *shared.InsufficientStockError
	s.Require().ErrorAs(err, &short)
	s.Equal(shared.ReasonNoDeferral, short.Reason)
	s.Equal(s.cards.ID, short.ProductID)
	s.Equal(1, short.Available)
	s.ErrorIs(err, shared.ErrInsufficientStock)

	_, found, err := s.store.FindSaleOrderByToken(context.Background(), 42, "t1")
	s.Require().NoError(err)
	s.False(found)
	s.Equal(1, s.count(s.cards.ID, inventory.StatusAvailable))
}

func (s *CheckoutSuite) TestMergesRepeatedLines() {
	s.stock(s.cards.ID, 3)

	res, err := s.svc.Checkout(context.Background(), s.request("t1",
		LineRequest{ProductID: s.cards.ID, Quantity: 1},
		LineRequest{ProductID: s.cards.ID, Quantity: 2}))
	s.Require().NoError(err)
	s.Require().Len(res.Lines, 1)
	s.Equal(3, res.Lines[0].Quantity)
	s.Len(res.ReservedUnitIDs, 3)
}

func (s *CheckoutSuite) TestMixedConditionsShareOnePool() {
	s.stockCondition(s.cards.ID, inventory.ConditionMint, 1)
	s.stockCondition(s.cards.ID, inventory.ConditionLoose, 2)

	res, err := s.svc.Checkout(context.Background(), s.request("t1",
		LineRequest{ProductID: s.cards.ID, Quantity: 2},
		LineRequest{ProductID: s.cards.ID, Quantity: 1, Condition: inventory.ConditionMint}))
	s.Require().NoError(err)
	s.Len(res.ReservedUnitIDs, 3)
	s.Require().Len(res.Lines, 2)
	s.Equal(inventory.ConditionMint, res.Lines[0].Condition)
	s.Equal(inventory.Condition(""), res.Lines[1].Condition)

	for _, u := range s.store.Units(s.cards.ID) {
		s.Equal(inventory.StatusReserved, u.Status)
		if u.SaleLineID == res.Lines[0].ID {
			s.Equal(inventory.ConditionMint, u.Condition)
		} else {
			s.Equal(res.Lines[1].ID, u.SaleLineID)
			s.Equal(inventory.ConditionLoose, u.Condition)
		}
	}
}

func (s *CheckoutSuite) TestOversizedMixedCartFailsWithoutDeferral() {
	s.stockCondition(s.cards.ID, inventory.ConditionMint, 1)
	s.stockCondition(s.cards.ID, inventory.ConditionLoose, 2)

	_, err := s.svc.Checkout(context.Background(), s.request("t1",
		LineRequest{ProductID: s.cards.ID, Quantity: 3},
		LineRequest{ProductID: s.cards.ID, Quantity: 1, Condition: inventory.ConditionMint}))
	var short *shared.InsufficientStockError
	s.Require().ErrorAs(err, &short)
	s.Equal(shared.ReasonNoDeferral, short.Reason)
	s.NotErrorIs(err, shared.ErrConcurrentReservation)
	s.Equal(4, short.Requested)
	s.Equal(3, short.Available)

	_, found, err := s.store.FindSaleOrderByToken(context.Background(), 42, "t1")
	s.Require().NoError(err)
	s.False(found)
	s.Equal(3, s.count(s.cards.ID, inventory.StatusAvailable))
}

func (s *CheckoutSuite) TestConditionShortageFailsWithoutDeferral() {
	s.stockCondition(s.cards.ID, inventory.ConditionMint, 1)
	s.stockCondition(s.cards.ID, inventory.ConditionLoose, 2)

	_, err := s.svc.Checkout(context.Background(), s.request("t1",
		LineRequest{ProductID: s.cards.ID, Quantity: 2, Condition: inventory.ConditionMint}))
	var short *shared.InsufficientStockError
	s.Require().ErrorAs(err, &short)
	s.Equal(shared.ReasonNoDeferral, short.Reason)
	s.Equal(3, s.count(s.cards.ID, inventory.StatusAvailable))
}

func (s *CheckoutSuite) TestMixedConditionsDeferRemainder() {
	s.stockCondition(s.figure.ID, inventory.ConditionMint, 1)
	s.stockCondition(s.figure.ID, inventory.ConditionLoose, 1)

	res, err := s.svc.Checkout(context.Background(), s.request("t1",
		LineRequest{ProductID: s.figure.ID, Quantity: 2},
		LineRequest{ProductID: s.figure.ID, Quantity: 1, Condition: inventory.ConditionMint}))
	s.Require().NoError(err)
	s.Len(res.ReservedUnitIDs, 2)
	s.Require().Len(res.Lines, 2)
	s.Equal(0, res.Lines[0].PreorderQty)
	s.Equal(1, res.Lines[1].PreorderQty)
	s.Require().Len(res.Reservations, 1)
	s.Equal(res.Lines[1].ID, res.Reservations[0].SaleLineID)
}

func (s *CheckoutSuite) TestReplayReturnsOriginalOrder() {
	s.stock(s.cards.ID, 2)
	req := s.request("same", LineRequest{ProductID: s.cards.ID, Quantity: 1})

	first, err := s.svc.Checkout(context.Background(), req)
	s.Require().NoError(err)
	second, err := s.svc.Checkout(context.Background(), req)
	s.Require().NoError(err)

	s.True(second.Replayed)
	s.Equal(first.Order.ID, second.Order.ID)
	s.Equal(first.ReservedUnitIDs, second.ReservedUnitIDs)
	s.Equal(1, s.count(s.cards.ID, inventory.StatusAvailable))
	s.Len(s.store.Payments(first.Order.ID), 1)
}

func (s *CheckoutSuite) TestConcurrentCheckoutsDoNotOversell() {
	s.stock(s.cards.ID, 1)

	var barrier sync.WaitGroup
	barrier.Add(2)
	s.svc.afterPrecheck = func() {
		barrier.Done()
		barrier.Wait()
	}

	errs := make(chan error, 2)
	for _, token := range []string{"a", "b"} {
		go func(token string) {
			_, err := s.svc.Checkout(context.Background(), s.request(token, LineRequest{ProductID: s.cards.ID, Quantity: 1}))
			errs <- err
		}(token)
	}
	var failures []error
	for range 2 {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	s.Require().Len(failures, 1)
	s.ErrorIs(failures[0], shared.ErrConcurrentReservation)
	var short *shared.InsufficientStockError
	s.Require().True(errors.As(failures[0], &short))
	s.Equal(shared.ReasonLostToConcurrent, short.Reason)
	s.Equal(1, s.count(s.cards.ID, inventory.StatusReserved))
	s.Equal(0, s.count(s.cards.ID, inventory.StatusAvailable))
}

func (s *CheckoutSuite) TestValidation() {
	cases := map[string]Request{
		"no lines":       s.request("t"),
		"zero quantity":  s.request("t", LineRequest{ProductID: s.cards.ID, Quantity: 0}),
		"bad condition":  s.request("t", LineRequest{ProductID: s.cards.ID, Quantity: 1, Condition: "shiny"}),
		"missing token":  s.request("", LineRequest{ProductID: s.cards.ID, Quantity: 1}),
		"unknown method": func() Request { r := s.request("t", LineRequest{ProductID: s.cards.ID, Quantity: 1}); r.ShippingMethod = "drone"; return r }(),
		"bad address":    func() Request { r := s.request("t", LineRequest{ProductID: s.cards.ID, Quantity: 1}); r.ShippingAddress.Country = ""; return r }(),
	}
	for name, req := range cases {
		_, err := s.svc.Checkout(context.Background(), req)
		s.ErrorIs(err, shared.ErrValidation, name)
	}
}

func (s *CheckoutSuite) TestUnknownProduct() {
	_, err := s.svc.Checkout(context.Background(), s.request("t", LineRequest{ProductID: 999, Quantity: 1}))
	s.ErrorIs(err, shared.ErrNotFound)
}

func (s *CheckoutSuite) TestLockTimeoutIsNotAShortage() {
	store := memory.New(memory.WithLockTimeout(10 * time.Millisecond))
	p := store.PutProduct(inventory.Product{SKU: "X", Price: decimal.NewFromInt(1), AllowBackorder: true})
	svc := NewService(store, NewRegistry(s.shipping), nil)

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = store.WithTx(context.Background(), func(context.Context, inventory.Tx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered
	defer close(hold)

	_, err := svc.Checkout(context.Background(), Request{
		PartyID: 1, Lines: []LineRequest{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: inventory.Address{Recipient: "A", Line1: "B", City: "C", Country: "ID"},
		ShippingMethod:  MethodPickup, PaymentMethod: "cod", IdempotencyToken: "lt",
	})
	s.ErrorIs(err, shared.ErrLockTimeout)
	s.NotErrorIs(err, shared.ErrInsufficientStock)
}
