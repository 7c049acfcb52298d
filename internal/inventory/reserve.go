package inventory

import (
	"context"
	"time"
)

// ReserveUnits applies the reserve event to each unit, links it to the sale
// line and writes one assignment log per unit.
func ReserveUnits(ctx context.Context, tx Tx, units []Unit, demand SaleDemand, source AssignmentSource, at time.Time) ([]int64, error) {
	ids := make([]int64, 0, len(units))
	for _, u := range units {
		next, err := Transition(u.Status, EventReserve)
		if err != nil {
			return nil, err
		}
		if err := Attach(&u, demand); err != nil {
			return nil, err
		}
		u.Status = next
		u.StatusChangedAt = at
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return nil, err
		}
		err = tx.InsertAssignmentLog(ctx, AssignmentLog{
			UnitID:      u.ID,
			ProductID:   u.ProductID,
			SaleOrderID: demand.OrderID,
			SaleLineID:  demand.LineID,
			Source:      source,
			CreatedAt:   at,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

