// Package memory is an in-process inventory.Store. Transactions run one at a
// time on a copy of the state that replaces the committed state on success.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// DefaultLockTimeout bounds the wait for the transaction slot.
const DefaultLockTimeout = 3 * time.Second

// Store keeps all tables in maps.
type Store struct {
	mu          sync.RWMutex
	slot        chan struct{}
	state       *state
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		slot:        make(chan struct{}, 1),
		state:       newState(),
		lockTimeout: DefaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a Store with a small catalog for local runs.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	s.PutProduct(inventory.Product{SKU: "FIG-001", Name: "Collector figure", Price: decimal.RequireFromString("49.90"),
		Length: decimal.NewFromInt(10), Width: decimal.NewFromInt(8), Height: decimal.NewFromInt(20), AllowPreorder: true})
	s.PutProduct(inventory.Product{SKU: "KIT-002", Name: "Model kit", Price: decimal.RequireFromString("29.00"),
		Length: decimal.NewFromInt(30), Width: decimal.NewFromInt(20), Height: decimal.NewFromInt(6), AllowBackorder: true})
	s.PutProduct(inventory.Product{SKU: "CARD-003", Name: "Trading card box", Price: decimal.RequireFromString("89.00"),
		Length: decimal.NewFromInt(15), Width: decimal.NewFromInt(10), Height: decimal.NewFromInt(8)})
	return s
}

// WithTx runs fn on a private copy of the state. The copy becomes the
// committed state only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.Tx) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.slot <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("memory: begin tx: %w", shared.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &view{st: working, now: s.now}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

func (s *Store) committed() *view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &view{st: s.state, now: s.now, readOnly: true}
}

// PutProduct inserts or replaces a catalog row. ID is assigned when zero.
func (s *Store) PutProduct(p inventory.Product) inventory.Product {
	s.slot <- struct{}{}
	defer func() { <-s.slot }()
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if p.ID == 0 {
		p.ID = next.nextID()
	}
	next.products[p.ID] = p
	s.state = next
	return p
}

// AuditLogs returns committed audit rows in insertion order.
func (s *Store) AuditLogs() []shared.AuditLog {
	v := s.committed()
	return append([]shared.AuditLog(nil), v.st.audit...)
}

// AssignmentLogs returns committed assignment rows in insertion order.
func (s *Store) AssignmentLogs() []inventory.AssignmentLog {
	v := s.committed()
	return append([]inventory.AssignmentLog(nil), v.st.assignments...)
}

// Payments returns the payment rows of an order.
func (s *Store) Payments(orderID int64) []inventory.Payment {
	v := s.committed()
	var out []inventory.Payment
	for _, p := range v.st.payments {
		if p.SaleOrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

// Address returns the address snapshot of an order.
func (s *Store) Address(orderID int64) (inventory.Address, bool) {
	v := s.committed()
	addr, ok := v.st.addresses[orderID]
	return addr, ok
}

// Units returns every unit of a product ordered by id.
func (s *Store) Units(productID int64) []inventory.Unit {
	v := s.committed()
	return v.st.unitsWhere(func(u inventory.Unit) bool { return u.ProductID == productID })
}

func (s *Store) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	return s.committed().GetProduct(ctx, id)
}

func (s *Store) CountFreeUnits(ctx context.Context, productID int64, cond inventory.Condition) (int, error) {
	return s.committed().CountFreeUnits(ctx, productID, cond)
}

func (s *Store) CountByStatus(ctx context.Context, productID int64) (inventory.StatusCounts, error) {
	return s.committed().CountByStatus(ctx, productID)
}

func (s *Store) GetUnit(ctx context.Context, id int64) (inventory.Unit, error) {
	return s.committed().GetUnit(ctx, id)
}

func (s *Store) ListFreeUnits(ctx context.Context, q inventory.UnitQuery) ([]inventory.Unit, error) {
	return s.committed().ListFreeUnits(ctx, q)
}

func (s *Store) ListUnitsByPurchaseLine(ctx context.Context, lineID int64) ([]inventory.Unit, error) {
	return s.committed().ListUnitsByPurchaseLine(ctx, lineID)
}

func (s *Store) ListUnitsBySaleOrder(ctx context.Context, orderID int64) ([]inventory.Unit, error) {
	return s.committed().ListUnitsBySaleOrder(ctx, orderID)
}

func (s *Store) CountAssigned(ctx context.Context, saleLineID int64) (int, error) {
	return s.committed().CountAssigned(ctx, saleLineID)
}

func (s *Store) GetSaleOrder(ctx context.Context, id int64) (inventory.SaleOrder, error) {
	return s.committed().GetSaleOrder(ctx, id)
}

func (s *Store) ListSaleLines(ctx context.Context, orderID int64) ([]inventory.SaleLine, error) {
	return s.committed().ListSaleLines(ctx, orderID)
}

func (s *Store) FindSaleOrderByToken(ctx context.Context, partyID int64, token string) (inventory.SaleOrder, bool, error) {
	return s.committed().FindSaleOrderByToken(ctx, partyID, token)
}

func (s *Store) ListActiveSaleLines(ctx context.Context, filter inventory.SaleLineFilter) ([]inventory.SaleLineDemand, error) {
	return s.committed().ListActiveSaleLines(ctx, filter)
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id int64) (inventory.PurchaseOrder, error) {
	return s.committed().GetPurchaseOrder(ctx, id)
}

func (s *Store) ListPurchaseLines(ctx context.Context, orderID int64) ([]inventory.PurchaseLine, error) {
	return s.committed().ListPurchaseLines(ctx, orderID)
}

func (s *Store) ListPurchaseOrderIDsByProduct(ctx context.Context, productID int64) ([]int64, error) {
	return s.committed().ListPurchaseOrderIDsByProduct(ctx, productID)
}

func (s *Store) ListPendingReservations(ctx context.Context, productID int64) ([]inventory.PreorderReservation, error) {
	return s.committed().ListPendingReservations(ctx, productID)
}

func (s *Store) ListReservationsBySaleOrder(ctx context.Context, orderID int64) ([]inventory.PreorderReservation, error) {
	return s.committed().ListReservationsBySaleOrder(ctx, orderID)
}

func (s *Store) GetBatch(ctx context.Context, id int64) (inventory.Batch, error) {
	return s.committed().GetBatch(ctx, id)
}

func (s *Store) ListReconcileRows(ctx context.Context, afterID int64, limit int) ([]inventory.ReconcileRow, error) {
	return s.committed().ListReconcileRows(ctx, afterID, limit)
}

var _ inventory.Store = (*Store)(nil)
