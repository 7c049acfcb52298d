package allocation

import (
	"context"

	"github.com/odyssey-erp/stockengine/internal/inventory"
)

// Assignment describes units newly linked to a sale line.
type Assignment struct {
	SaleOrderID int64                      `json:"sale_order_id"`
	SaleLineID  int64                      `json:"sale_line_id"`
	ProductID   int64                      `json:"product_id"`
	PartyID     int64                      `json:"party_id,omitempty"`
	UnitIDs     []int64                    `json:"unit_ids"`
	Source      inventory.AssignmentSource `json:"source"`
}

// Notifier dispatches assignment notifications after commit.
type Notifier interface {
	NotifyAssignment(ctx context.Context, a Assignment) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

// NotifyAssignment implements Notifier.
func (NopNotifier) NotifyAssignment(context.Context, Assignment) error { return nil }
