// Package procurement registers supplier purchase orders and receives them
// into stock.
package procurement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
)

// LineInput is one purchase order line.
type LineInput struct {
	ProductID int64               `json:"product_id" validate:"required,gt=0"`
	Quantity  int                 `json:"quantity" validate:"required,gt=0,lte=10000"`
	UnitCost  decimal.Decimal     `json:"unit_cost"`
	Condition inventory.Condition `json:"condition" validate:"omitempty,oneof=brand_new misb mint loose damaged_box"`
}

// RegisterInput describes a supplier order. Number is the supplier facing
// document number and doubles as the idempotency key.
type RegisterInput struct {
	Number       string          `json:"number" validate:"required,max=64"`
	SupplierRef  string          `json:"supplier_ref" validate:"max=128"`
	Currency     string          `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TaxCost      decimal.Decimal `json:"tax_cost"`
	OtherCost    decimal.Decimal `json:"other_cost"`
	Lines        []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

// RegisterResult is the persisted order with its lines.
type RegisterResult struct {
	Order        inventory.PurchaseOrder  `json:"order"`
	Lines        []inventory.PurchaseLine `json:"lines"`
	UnitsCreated int                      `json:"units_created"`
}

// ReceiveResult reports a delivery. ProductIDs lists products whose free
// pool grew, in ascending order.
type ReceiveResult struct {
	Order         inventory.PurchaseOrder `json:"order"`
	UnitsReceived int                     `json:"units_received"`
	UnitsSkipped  int                     `json:"units_skipped"`
	ProductIDs    []int64                 `json:"product_ids"`
}

// KeyClaimer guards RegisterOrder against duplicate submissions.
// *shared.IdempotencyStore satisfies it.
type KeyClaimer interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}
