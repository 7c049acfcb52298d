package checkout

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Shipping method keys.
const (
	MethodFlat       = "flat"
	MethodFreeOver   = "free_over"
	MethodPickup     = "pickup"
	MethodVolumetric = "volumetric"
)

// ShippingConfig carries the rates used by the built-in strategies.
type ShippingConfig struct {
	FlatRate       decimal.Decimal
	FreeOver       decimal.Decimal
	VolumetricRate decimal.Decimal
}

// ParcelItem is one product line of a shipment.
type ParcelItem struct {
	Product  inventory.Product
	Quantity int
}

// Parcel is what a shipping strategy prices.
type Parcel struct {
	Subtotal decimal.Decimal
	Items    []ParcelItem
}

// Volume sums unit volume × quantity over all items.
func (p Parcel) Volume() decimal.Decimal {
	total := decimal.Zero
	for _, it := range p.Items {
		total = total.Add(it.Product.UnitVolume().Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Strategy prices a parcel.
type Strategy interface {
	Quote(p Parcel) decimal.Decimal
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(p Parcel) decimal.Decimal

// Quote implements Strategy.
func (f StrategyFunc) Quote(p Parcel) decimal.Decimal { return f(p) }

// Registry resolves shipping strategies by method key.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns a registry with the flat, free_over, pickup and
// volumetric strategies.
func NewRegistry(cfg ShippingConfig) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(MethodFlat, StrategyFunc(func(Parcel) decimal.Decimal { return cfg.FlatRate }))
	r.Register(MethodFreeOver, StrategyFunc(func(p Parcel) decimal.Decimal {
		if p.Subtotal.GreaterThanOrEqual(cfg.FreeOver) {
			return decimal.Zero
		}
		return cfg.FlatRate
	}))
	r.Register(MethodPickup, StrategyFunc(func(Parcel) decimal.Decimal { return decimal.Zero }))
	r.Register(MethodVolumetric, StrategyFunc(func(p Parcel) decimal.Decimal {
		return p.Volume().Mul(cfg.VolumetricRate).Round(2)
	}))
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(method string, s Strategy) {
	r.strategies[method] = s
}

// Lookup returns the strategy for method.
func (r *Registry) Lookup(method string) (Strategy, error) {
	s, ok := r.strategies[method]
	if !ok {
		return nil, shared.Validationf("checkout: unknown shipping method %q", method)
	}
	return s, nil
}

// Methods lists registered method keys in sorted order.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
