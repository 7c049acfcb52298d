package inventory

import "fmt"

// DemandContext identifies the order line a unit operation is performed for.
// Implementations are SaleDemand and PurchaseDemand.
type DemandContext interface {
	demand()
}

// SaleDemand ties an operation to a customer order line.
type SaleDemand struct {
	OrderID int64
	LineID  int64
}

// PurchaseDemand ties an operation to a supplier order line.
type PurchaseDemand struct {
	OrderID int64
	LineID  int64
}

func (SaleDemand) demand()     {}
func (PurchaseDemand) demand() {}

// Describe renders a demand for logs and audit metadata.
func Describe(d DemandContext) (string, error) {
	switch v := d.(type) {
	case SaleDemand:
		return fmt.Sprintf("sale_order:%d/line:%d", v.OrderID, v.LineID), nil
	case PurchaseDemand:
		return fmt.Sprintf("purchase_order:%d/line:%d", v.OrderID, v.LineID), nil
	}
	return "", fmt.Errorf("inventory: unknown demand context %T", d)
}

// Attach links the unit to the demand's order line.
func Attach(u *Unit, d DemandContext) error {
	switch v := d.(type) {
	case SaleDemand:
		if u.Linked() && (u.SaleOrderID != v.OrderID || u.SaleLineID != v.LineID) {
			return fmt.Errorf("inventory: unit %d already linked to sale order %d", u.ID, u.SaleOrderID)
		}
		u.SaleOrderID = v.OrderID
		u.SaleLineID = v.LineID
		return nil
	case PurchaseDemand:
		u.PurchaseOrderID = v.OrderID
		u.PurchaseLineID = v.LineID
		return nil
	}
	return fmt.Errorf("inventory: unknown demand context %T", d)
}

// Detach clears the link established by Attach.
func Detach(u *Unit, d DemandContext) error {
	switch d.(type) {
	case SaleDemand:
		u.SaleOrderID = 0
		u.SaleLineID = 0
		return nil
	case PurchaseDemand:
		u.PurchaseOrderID = 0
		u.PurchaseLineID = 0
		return nil
	}
	return fmt.Errorf("inventory: unknown demand context %T", d)
}
