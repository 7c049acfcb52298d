// Package costing spreads purchase order shared costs over lines by volume
// and revalues the units received on them.
package costing

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
)

// LineInput pairs a purchase line with the product dimensions it ships in.
type LineInput struct {
	Line    inventory.PurchaseLine
	Product inventory.Product
}

// LineCost is the cost breakdown of one purchase line.
type LineCost struct {
	LineID           int64           `json:"line_id"`
	ProductID        int64           `json:"product_id"`
	Quantity         int             `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	UnitVolume       decimal.Decimal `json:"unit_volume"`
	LineVolume       decimal.Decimal `json:"line_volume"`
	Ratio            decimal.Decimal `json:"ratio"`
	LineShared       decimal.Decimal `json:"line_shared"`
	AdditionalCost   decimal.Decimal `json:"additional_cost"`
	ComposedCost     decimal.Decimal `json:"composed_cost"`
	ComposedCostBase decimal.Decimal `json:"composed_cost_base"`
}

// Breakdown is the full distribution for a purchase order.
type Breakdown struct {
	PurchaseOrderID int64           `json:"purchase_order_id"`
	SharedCost      decimal.Decimal `json:"shared_cost"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
	Lines           []LineCost      `json:"lines"`
}

// round2 rounds half away from zero to two places.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Distribute computes the volumetric split of po's shared cost. It performs
// no I/O.
func Distribute(po inventory.PurchaseOrder, lines []LineInput) Breakdown {
	out := Breakdown{
		PurchaseOrderID: po.ID,
		SharedCost:      po.SharedCost(),
		TotalVolume:     decimal.Zero,
		Subtotal:        decimal.Zero,
		Lines:           make([]LineCost, 0, len(lines)),
	}
	rate := po.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	for _, in := range lines {
		qty := decimal.NewFromInt(int64(in.Line.Quantity))
		unitVolume := in.Product.UnitVolume()
		lc := LineCost{
			LineID:     in.Line.ID,
			ProductID:  in.Line.ProductID,
			Quantity:   in.Line.Quantity,
			UnitCost:   in.Line.UnitCost,
			UnitVolume: unitVolume,
			LineVolume: qty.Mul(unitVolume),
		}
		out.TotalVolume = out.TotalVolume.Add(lc.LineVolume)
		out.Subtotal = out.Subtotal.Add(qty.Mul(in.Line.UnitCost))
		out.Lines = append(out.Lines, lc)
	}

	for i := range out.Lines {
		lc := &out.Lines[i]
		lc.Ratio = decimal.Zero
		if !out.TotalVolume.IsZero() {
			lc.Ratio = lc.LineVolume.Div(out.TotalVolume)
		}
		lc.LineShared = out.SharedCost.Mul(lc.Ratio)
		lc.AdditionalCost = decimal.Zero
		if lc.Quantity > 0 {
			lc.AdditionalCost = round2(lc.LineShared.Div(decimal.NewFromInt(int64(lc.Quantity))))
		}
		lc.ComposedCost = lc.UnitCost.Add(lc.AdditionalCost)
		lc.ComposedCostBase = round2(lc.ComposedCost.Mul(rate))
	}
	out.Total = out.Subtotal.Add(out.SharedCost)
	return out
}
