package memory

import (
	"maps"
	"slices"
	"sort"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

type state struct {
	seq            int64
	products       map[int64]inventory.Product
	units          map[int64]inventory.Unit
	saleOrders     map[int64]inventory.SaleOrder
	saleLines      map[int64]inventory.SaleLine
	addresses      map[int64]inventory.Address
	payments       map[int64]inventory.Payment
	reservations   map[int64]inventory.PreorderReservation
	purchaseOrders map[int64]inventory.PurchaseOrder
	purchaseLines  map[int64]inventory.PurchaseLine
	batches        map[int64]inventory.Batch
	adjLines       map[int64]inventory.AdjustmentLine
	entries        map[int64]inventory.AdjustmentEntry
	assignments    []inventory.AssignmentLog
	audit          []shared.AuditLog
}

func newState() *state {
	return &state{
		products:       map[int64]inventory.Product{},
		units:          map[int64]inventory.Unit{},
		saleOrders:     map[int64]inventory.SaleOrder{},
		saleLines:      map[int64]inventory.SaleLine{},
		addresses:      map[int64]inventory.Address{},
		payments:       map[int64]inventory.Payment{},
		reservations:   map[int64]inventory.PreorderReservation{},
		purchaseOrders: map[int64]inventory.PurchaseOrder{},
		purchaseLines:  map[int64]inventory.PurchaseLine{},
		batches:        map[int64]inventory.Batch{},
		adjLines:       map[int64]inventory.AdjustmentLine{},
		entries:        map[int64]inventory.AdjustmentEntry{},
	}
}

// clone copies every table. Row values are plain structs so a shallow map
// copy is enough; batch headers are stored without their line slices.
func (s *state) clone() *state {
	return &state{
		seq:            s.seq,
		products:       maps.Clone(s.products),
		units:          maps.Clone(s.units),
		saleOrders:     maps.Clone(s.saleOrders),
		saleLines:      maps.Clone(s.saleLines),
		addresses:      maps.Clone(s.addresses),
		payments:       maps.Clone(s.payments),
		reservations:   maps.Clone(s.reservations),
		purchaseOrders: maps.Clone(s.purchaseOrders),
		purchaseLines:  maps.Clone(s.purchaseLines),
		batches:        maps.Clone(s.batches),
		adjLines:       maps.Clone(s.adjLines),
		entries:        maps.Clone(s.entries),
		assignments:    slices.Clone(s.assignments),
		audit:          slices.Clone(s.audit),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) unitsWhere(keep func(inventory.Unit) bool) []inventory.Unit {
	var out []inventory.Unit
	for _, u := range s.units {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// preorderSourced reports units attached to a line by the preorder allocator.
func (s *state) preorderSourced(unitID, lineID int64) bool {
	for _, a := range s.assignments {
		if a.UnitID == unitID && a.SaleLineID == lineID && a.Source == inventory.SourcePreorder {
			return true
		}
	}
	return false
}

func (s *state) countAssigned(lineID int64) int {
	n := 0
	for _, u := range s.units {
		if u.SaleLineID == lineID && !s.preorderSourced(u.ID, lineID) {
			n++
		}
	}
	return n
}
