package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnitStatus enumerates the lifecycle states of a physical piece.
type UnitStatus string

const (
	// StatusInTransit is ordered from a supplier but not yet received.
	StatusInTransit UnitStatus = "in_transit"
	// StatusAvailable is on hand and free to sell.
	StatusAvailable UnitStatus = "available"
	// StatusReserved is on hand and held for a pending sale order.
	StatusReserved UnitStatus = "reserved"
	// StatusSold is on hand and committed to a confirmed sale order.
	StatusSold UnitStatus = "sold"
	// StatusPreReserved is in transit and held for a pending sale order.
	StatusPreReserved UnitStatus = "pre_reserved"
	// StatusPreSold is in transit and committed to a confirmed sale order.
	StatusPreSold UnitStatus = "pre_sold"
	StatusDamaged     UnitStatus = "damaged"
	StatusLost        UnitStatus = "lost"
	StatusReturned    UnitStatus = "returned"
	StatusScrap       UnitStatus = "scrap"
	StatusMarketing   UnitStatus = "marketing"
)

// AllStatuses lists every unit status in a stable order.
func AllStatuses() []UnitStatus {
	return []UnitStatus{
		StatusInTransit, StatusAvailable, StatusReserved, StatusSold, StatusPreReserved,
		StatusPreSold, StatusDamaged, StatusLost, StatusReturned, StatusScrap, StatusMarketing,
	}
}

// ParseUnitStatus validates a persisted status value.
func ParseUnitStatus(value string) (UnitStatus, error) {
	for _, s := range AllStatuses() {
		if string(s) == value {
			return s, nil
		}
	}
	return "", fmt.Errorf("inventory: unknown unit status %q", value)
}

// IsTerminal reports statuses that automated flows never overwrite.
func (s UnitStatus) IsTerminal() bool {
	switch s {
	case StatusSold, StatusDamaged, StatusLost, StatusReturned, StatusScrap, StatusMarketing:
		return true
	}
	return false
}

// NonTerminalStatuses lists the statuses the reconciler may rewrite.
func NonTerminalStatuses() []UnitStatus {
	return []UnitStatus{StatusInTransit, StatusAvailable, StatusReserved, StatusPreReserved, StatusPreSold}
}

// Condition grades the physical state of a piece.
type Condition string

const (
	ConditionBrandNew   Condition = "brand_new"
	ConditionMISB       Condition = "misb"
	ConditionMint       Condition = "mint"
	ConditionLoose      Condition = "loose"
	ConditionDamagedBox Condition = "damaged_box"
)

// ParseCondition accepts an empty value as "any condition".
func ParseCondition(value string) (Condition, error) {
	switch c := Condition(value); c {
	case "", ConditionBrandNew, ConditionMISB, ConditionMint, ConditionLoose, ConditionDamagedBox:
		return c, nil
	}
	return "", fmt.Errorf("inventory: unknown condition %q", value)
}

// Unit is one physical, individually tracked stock piece.
type Unit struct {
	ID              int64
	ProductID       int64
	Status          UnitStatus
	Condition       Condition
	LocationID      int64
	PurchaseCost    decimal.Decimal
	SoldPrice       decimal.NullDecimal
	PurchaseOrderID int64
	PurchaseLineID  int64
	SaleOrderID     int64
	SaleLineID      int64
	StatusChangedAt time.Time
	AdjustmentRef   string
	CreatedAt       time.Time
}

// Linked reports whether the unit is attached to a sale order.
func (u Unit) Linked() bool {
	return u.SaleOrderID != 0
}

// StatusCounts maps each status to a unit count.
type StatusCounts map[UnitStatus]int

// Total sums all statuses.
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Product is the read-only catalog view the engine needs.
type Product struct {
	ID             int64
	SKU            string
	Name           string
	Price          decimal.Decimal
	Length         decimal.Decimal
	Width          decimal.Decimal
	Height         decimal.Decimal
	AllowPreorder  bool
	AllowBackorder bool
}

// UnitVolume returns length × width × height.
func (p Product) UnitVolume() decimal.Decimal {
	return p.Length.Mul(p.Width).Mul(p.Height)
}

// PurchaseStatus enumerates purchase order states.
type PurchaseStatus string

const (
	PurchaseDraft     PurchaseStatus = "draft"
	PurchaseOrdered   PurchaseStatus = "ordered"
	PurchaseDelivered PurchaseStatus = "delivered"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// PurchaseOrder is the supplier order carrying shared costs.
type PurchaseOrder struct {
	ID           int64
	Number       string
	SupplierRef  string
	Status       PurchaseStatus
	Currency     string
	ExchangeRate decimal.Decimal
	ShippingCost decimal.Decimal
	TaxCost      decimal.Decimal
	OtherCost    decimal.Decimal
	Subtotal     decimal.Decimal
	Total        decimal.Decimal
	CreatedAt    time.Time
}

// SharedCost is shipping + tax + other.
func (po PurchaseOrder) SharedCost() decimal.Decimal {
	return po.ShippingCost.Add(po.TaxCost).Add(po.OtherCost)
}

// PurchaseLine is a purchase order line. The cost fields after UnitCost are derived.
type PurchaseLine struct {
	ID               int64
	PurchaseOrderID  int64
	ProductID        int64
	Quantity         int
	UnitCost         decimal.Decimal
	AdditionalCost   decimal.Decimal
	ComposedCost     decimal.Decimal
	ComposedCostBase decimal.Decimal
}

// SaleStatus enumerates sale order states.
type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleConfirmed SaleStatus = "confirmed"
	SaleShipped   SaleStatus = "shipped"
	SaleDelivered SaleStatus = "delivered"
	SaleCancelled SaleStatus = "cancelled"
)

// IsActive reports orders that still hold demand.
func (s SaleStatus) IsActive() bool {
	return s == SalePending || s == SaleConfirmed
}

// SaleOrder is the customer order aggregate header.
type SaleOrder struct {
	ID             int64
	Number         string
	PartyID        int64
	Status         SaleStatus
	ShippingMethod string
	PaymentMethod  string
	ShippingCost   decimal.Decimal
	Subtotal       decimal.Decimal
	Total          decimal.Decimal
	CheckoutToken  string
	CreatedAt      time.Time
}

// SaleLine is a sale order line. PreorderQty is served by preorder
// reservations, the rest by immediate or backorder assignment.
type SaleLine struct {
	ID           int64
	SaleOrderID  int64
	ProductID    int64
	Quantity     int
	Condition    Condition
	UnitPrice    decimal.Decimal
	PreorderQty  int
	BackorderQty int
	LineTotal    decimal.Decimal
}

// ImmediateNeed is the quantity auto-assignment must cover.
func (l SaleLine) ImmediateNeed() int {
	need := l.Quantity - l.PreorderQty
	if need < 0 {
		return 0
	}
	return need
}

// SaleLineDemand is an active sale line with its current assignment count.
type SaleLineDemand struct {
	Line      SaleLine
	Assigned  int
	OrderedAt time.Time
}

// Shortfall is the number of units still missing for the immediate need.
func (d SaleLineDemand) Shortfall() int {
	short := d.Line.ImmediateNeed() - d.Assigned
	if short < 0 {
		return 0
	}
	return short
}

// SaleLineFilter narrows ListActiveSaleLines.
type SaleLineFilter struct {
	ProductID int64
	Limit     int
}

// Address is an immutable shipping address snapshot.
type Address struct {
	Recipient  string `json:"recipient" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone"`
}

// PaymentStatus enumerates payment record states.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
)

// Payment is the payment record created alongside an order.
type Payment struct {
	ID          int64
	SaleOrderID int64
	Method      string
	Amount      decimal.Decimal
	Status      PaymentStatus
}

// ReservationStatus enumerates preorder reservation states.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationAssigned  ReservationStatus = "assigned"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// PreorderReservation is queued demand for a product without stock.
type PreorderReservation struct {
	ID          int64
	ProductID   int64
	PartyID     int64
	Quantity    int
	Status      ReservationStatus
	ReservedAt  time.Time
	SaleOrderID int64
	SaleLineID  int64
	ParentID    int64
}

// AssignmentSource records which flow linked a unit to a sale line.
type AssignmentSource string

const (
	SourceCheckout   AssignmentSource = "checkout"
	SourceAutoAssign AssignmentSource = "auto_assign"
	SourcePreorder   AssignmentSource = "preorder"
)

// AssignmentLog is written for every unit linked to a sale line.
type AssignmentLog struct {
	UnitID      int64
	ProductID   int64
	SaleOrderID int64
	SaleLineID  int64
	Source      AssignmentSource
	CreatedAt   time.Time
}

// ReconcileRow is a non-terminal unit joined with its order states.
type ReconcileRow struct {
	Unit           Unit
	PurchaseStatus PurchaseStatus
	SaleStatus     SaleStatus
}
