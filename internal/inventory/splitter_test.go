package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

type stubSplitReader struct {
	products map[int64]Product
	onHand   map[int64]int
	lastCond Condition
}

func (s *stubSplitReader) GetProduct(_ context.Context, id int64) (Product, error) {
	p, ok := s.products[id]
	if !ok {
		return Product{}, shared.NotFoundf("product %d", id)
	}
	return p, nil
}

func (s *stubSplitReader) CountFreeUnits(_ context.Context, productID int64, cond Condition) (int, error) {
	s.lastCond = cond
	return s.onHand[productID], nil
}

func TestSplitAvailability(t *testing.T) {
	cases := []struct {
		name      string
		product   Product
		onHand    int
		requested int
		immediate int
		pending   int
		deferral  Deferral
	}{
		{"fully on hand", Product{ID: 1}, 10, 4, 4, 0, DeferralNone},
		{"preorder wins over backorder", Product{ID: 1, AllowPreorder: true, AllowBackorder: true}, 2, 5, 2, 3, DeferralPreorder},
		{"backorder only", Product{ID: 1, AllowBackorder: true}, 0, 3, 0, 3, DeferralBackorder},
		{"short without deferral", Product{ID: 1}, 1, 3, 1, 2, DeferralNone},
		{"negative on hand treated as zero", Product{ID: 1, AllowPreorder: true}, -2, 2, 0, 2, DeferralPreorder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitAvailability(tc.product, tc.onHand, tc.requested)
			assert.Equal(t, tc.immediate, got.Immediate)
			assert.Equal(t, tc.pending, got.Pending)
			assert.Equal(t, tc.deferral, got.Deferral)
			assert.Equal(t, tc.requested, got.Immediate+got.Pending)
		})
	}
}

func TestSplitterSplit(t *testing.T) {
	reader := &stubSplitReader{
		products: map[int64]Product{5: {ID: 5, AllowPreorder: true}},
		onHand:   map[int64]int{5: 2},
	}
	splitter := NewSplitter(reader)
	ctx := context.Background()

	got, err := splitter.Split(ctx, 5, 3, ConditionMint)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Immediate)
	assert.Equal(t, 1, got.Pending)
	assert.True(t, got.Satisfiable())
	assert.Equal(t, ConditionMint, reader.lastCond)

	_, err = splitter.Split(ctx, 5, 0, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = splitter.Split(ctx, 99, 1, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
