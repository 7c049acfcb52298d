package inventory

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Deferral describes how the pending part of a request is served.
type Deferral string

const (
	DeferralPreorder  Deferral = "preorder"
	DeferralBackorder Deferral = "backorder"
	DeferralNone      Deferral = "none"
)

// Availability is the result of splitting a requested quantity.
type Availability struct {
	ProductID int64    `json:"product_id"`
	Requested int      `json:"requested"`
	OnHand    int      `json:"on_hand"`
	Immediate int      `json:"immediate"`
	Pending   int      `json:"pending"`
	Deferral  Deferral `json:"deferral"`
}

// Satisfiable reports whether the request can be taken as a whole.
func (a Availability) Satisfiable() bool {
	return a.Pending == 0 || a.Deferral != DeferralNone
}

// SplitAvailability divides requested into immediate and pending parts.
func SplitAvailability(product Product, onHand, requested int) Availability {
	if onHand < 0 {
		onHand = 0
	}
	immediate := requested
	if onHand < immediate {
		immediate = onHand
	}
	deferral := DeferralNone
	switch {
	case product.AllowPreorder:
		deferral = DeferralPreorder
	case product.AllowBackorder:
		deferral = DeferralBackorder
	}
	return Availability{
		ProductID: product.ID,
		Requested: requested,
		OnHand:    onHand,
		Immediate: immediate,
		Pending:   requested - immediate,
		Deferral:  deferral,
	}
}

// SplitReader is the read surface the splitter needs.
type SplitReader interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	CountFreeUnits(ctx context.Context, productID int64, cond Condition) (int, error)
}

// Splitter answers how much of a request can be served now.
type Splitter struct {
	reader SplitReader
}

// NewSplitter constructs Splitter.
func NewSplitter(reader SplitReader) *Splitter {
	return &Splitter{reader: reader}
}

// Split reads current on-hand stock for product and splits requested.
func (s *Splitter) Split(ctx context.Context, productID int64, requested int, cond Condition) (Availability, error) {
	if requested <= 0 {
		return Availability{}, shared.Validationf("inventory: requested quantity must be positive, got %d", requested)
	}
	return SplitWith(ctx, s.reader, productID, requested, cond)
}

// SplitWith runs a split against any reader, including an open transaction.
func SplitWith(ctx context.Context, reader SplitReader, productID int64, requested int, cond Condition) (Availability, error) {
	product, err := reader.GetProduct(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	onHand, err := reader.CountFreeUnits(ctx, productID, cond)
	if err != nil {
		return Availability{}, fmt.Errorf("inventory: count on hand: %w", err)
	}
	return SplitAvailability(product, onHand, requested), nil
}
