package inventory

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Service exposes read-side inventory queries.
type Service struct {
	store    Store
	splitter *Splitter
}

// NewService builds Service.
func NewService(store Store) *Service {
	return &Service{store: store, splitter: NewSplitter(store)}
}

// Split previews how a request for productID would be served.
func (s *Service) Split(ctx context.Context, productID int64, requested int, cond Condition) (Availability, error) {
	return s.splitter.Split(ctx, productID, requested, cond)
}

// Summary counts a product's units per status.
func (s *Service) Summary(ctx context.Context, productID int64) (StatusCounts, error) {
	if productID == 0 {
		return nil, shared.Validationf("inventory: product required")
	}
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStatus(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: count by status: %w", err)
	}
	return counts, nil
}

// Unit loads a single unit.
func (s *Service) Unit(ctx context.Context, id int64) (Unit, error) {
	return s.store.GetUnit(ctx, id)
}
