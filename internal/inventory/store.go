package inventory

import (
	"context"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// UnitQuery selects unlinked units of one product for allocation.
// Statuses are listed in priority order; within a status the oldest unit
// (created_at, id) comes first.
type UnitQuery struct {
	ProductID int64
	Statuses  []UnitStatus
	Condition Condition
	Limit     int
	// Exclude skips ids already claimed by the caller (dry runs).
	Exclude map[int64]struct{}
}

// Reader exposes read-only queries. Outside a transaction they see committed
// data; inside one they see the transaction's own writes.
type Reader interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	CountFreeUnits(ctx context.Context, productID int64, cond Condition) (int, error)
	CountByStatus(ctx context.Context, productID int64) (StatusCounts, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	ListFreeUnits(ctx context.Context, q UnitQuery) ([]Unit, error)
	ListUnitsByPurchaseLine(ctx context.Context, lineID int64) ([]Unit, error)
	ListUnitsBySaleOrder(ctx context.Context, orderID int64) ([]Unit, error)
	CountAssigned(ctx context.Context, saleLineID int64) (int, error)

	GetSaleOrder(ctx context.Context, id int64) (SaleOrder, error)
	ListSaleLines(ctx context.Context, orderID int64) ([]SaleLine, error)
	FindSaleOrderByToken(ctx context.Context, partyID int64, token string) (SaleOrder, bool, error)
	ListActiveSaleLines(ctx context.Context, filter SaleLineFilter) ([]SaleLineDemand, error)

	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPurchaseLines(ctx context.Context, orderID int64) ([]PurchaseLine, error)
	ListPurchaseOrderIDsByProduct(ctx context.Context, productID int64) ([]int64, error)

	ListPendingReservations(ctx context.Context, productID int64) ([]PreorderReservation, error)
	ListReservationsBySaleOrder(ctx context.Context, orderID int64) ([]PreorderReservation, error)

	GetBatch(ctx context.Context, id int64) (Batch, error)

	ListReconcileRows(ctx context.Context, afterID int64, limit int) ([]ReconcileRow, error)
}

// Tx is the transactional surface. Lock* methods take row locks held until
// commit or rollback.
type Tx interface {
	Reader

	LockFreeUnits(ctx context.Context, q UnitQuery) ([]Unit, error)
	LockUnits(ctx context.Context, ids []int64) ([]Unit, error)
	LockSaleOrder(ctx context.Context, id int64) (SaleOrder, error)
	LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	LockBatch(ctx context.Context, id int64) (Batch, error)
	LockPendingReservations(ctx context.Context, productID int64) ([]PreorderReservation, error)

	InsertUnits(ctx context.Context, units []Unit) ([]Unit, error)
	UpdateUnit(ctx context.Context, unit Unit) error
	DeleteUnits(ctx context.Context, ids []int64) error

	// InsertSaleOrder returns shared.ErrIdempotencyConflict when (party, token) is taken.
	InsertSaleOrder(ctx context.Context, order SaleOrder) (SaleOrder, error)
	UpdateSaleOrder(ctx context.Context, order SaleOrder) error
	InsertSaleLine(ctx context.Context, line SaleLine) (SaleLine, error)
	InsertAddress(ctx context.Context, orderID int64, addr Address) error
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	InsertAssignmentLog(ctx context.Context, log AssignmentLog) error

	InsertReservation(ctx context.Context, r PreorderReservation) (PreorderReservation, error)
	UpdateReservation(ctx context.Context, r PreorderReservation) error

	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	InsertPurchaseLine(ctx context.Context, line PurchaseLine) (PurchaseLine, error)
	UpdatePurchaseLine(ctx context.Context, line PurchaseLine) error

	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) error
	InsertEntries(ctx context.Context, entries []AdjustmentEntry) error
	DeleteEntries(ctx context.Context, batchID int64) error

	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Store is implemented by the postgres and memory packages.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
