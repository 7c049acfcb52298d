package costing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Config controls revaluation policy and fan-out.
type Config struct {
	// RevalueSoldUnits restates the cost of sold and pre-sold units too.
	RevalueSoldUnits bool
	// Concurrency bounds the purchase orders recomputed in parallel.
	Concurrency int
}

// DefaultConfig revalues sold units and recomputes four orders at a time.
func DefaultConfig() Config {
	return Config{RevalueSoldUnits: true, Concurrency: 4}
}

// Service recomputes composed costs.
type Service struct {
	store   inventory.Store
	logger  *slog.Logger
	cfg     Config
	metrics *observability.EngineMetrics
	group   singleflight.Group
	now     func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithMetrics records revaluation counters.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs Service.
func NewService(store inventory.Store, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Service{store: store, logger: logger, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OrderResult reports one recomputed purchase order.
type OrderResult struct {
	Breakdown      Breakdown `json:"breakdown"`
	UnitsRevalued  int       `json:"units_revalued"`
	UnitsUnchanged int       `json:"units_unchanged"`
	UnitsSkipped   int       `json:"units_skipped"`
}

// ProductResult reports a product-wide recompute. Errors follows the order
// of Orders' purchase order ids.
type ProductResult struct {
	ProductID int64         `json:"product_id"`
	Orders    []OrderResult `json:"orders"`
	Errors    []error       `json:"-"`
}

// Preview computes the breakdown without writing anything.
func (s *Service) Preview(ctx context.Context, poID int64) (Breakdown, error) {
	po, err := s.store.GetPurchaseOrder(ctx, poID)
	if err != nil {
		return Breakdown{}, fmt.Errorf("costing: preview: %w", err)
	}
	inputs, err := loadInputs(ctx, s.store, po.ID)
	if err != nil {
		return Breakdown{}, fmt.Errorf("costing: preview: %w", err)
	}
	return Distribute(po, inputs), nil
}

// RecomputePurchaseOrder rewrites the derived line costs of a purchase order
// and revalues its units in one transaction. Concurrent calls for the same
// order share one run.
func (s *Service) RecomputePurchaseOrder(ctx context.Context, poID int64) (OrderResult, error) {
	key := strconv.FormatInt(poID, 10)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.recompute(context.WithoutCancel(ctx), poID)
	})
	select {
	case <-ctx.Done():
		return OrderResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return OrderResult{}, res.Err
		}
		return res.Val.(OrderResult), nil
	}
}

// RecomputeProduct recomputes every purchase order carrying the product.
// A failing order is logged and reported; the others still run.
func (s *Service) RecomputeProduct(ctx context.Context, productID int64) (ProductResult, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return ProductResult{}, fmt.Errorf("costing: recompute product %d: %w", productID, err)
	}
	ids, err := s.store.ListPurchaseOrderIDsByProduct(ctx, productID)
	if err != nil {
		return ProductResult{}, fmt.Errorf("costing: list purchase orders: %w", err)
	}

	results := make([]OrderResult, len(ids))
	errs := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.RecomputePurchaseOrder(gctx, id)
			if err != nil {
				s.logger.Warn("costing recompute failed", slog.Int64("purchase_order_id", id), slog.Any("error", err))
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ProductResult{}, err
	}

	out := ProductResult{ProductID: productID}
	for i := range ids {
		if errs[i] != nil {
			out.Errors = append(out.Errors, errs[i])
			continue
		}
		out.Orders = append(out.Orders, results[i])
	}
	return out, nil
}

func (s *Service) recompute(ctx context.Context, poID int64) (OrderResult, error) {
	var result OrderResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		result = OrderResult{}
		po, err := tx.LockPurchaseOrder(ctx, poID)
		if err != nil {
			return err
		}
		inputs, err := loadInputs(ctx, tx, po.ID)
		if err != nil {
			return err
		}
		bd := Distribute(po, inputs)
		result.Breakdown = bd

		now := s.now()
		for i, lc := range bd.Lines {
			line := inputs[i].Line
			line.AdditionalCost = lc.AdditionalCost
			line.ComposedCost = lc.ComposedCost
			line.ComposedCostBase = lc.ComposedCostBase
			if err := tx.UpdatePurchaseLine(ctx, line); err != nil {
				return err
			}
			if err := s.revalueLine(ctx, tx, line, &result, now); err != nil {
				return fmt.Errorf("line %d: %w", line.ID, err)
			}
		}

		po.Subtotal = bd.Subtotal
		po.Total = bd.Total
		return tx.UpdatePurchaseOrder(ctx, po)
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("costing: recompute purchase order %d: %w", poID, err)
	}
	s.metrics.SweepRows("costing", "revalued", result.UnitsRevalued)
	s.metrics.SweepRows("costing", "unchanged", result.UnitsUnchanged)
	s.metrics.SweepRows("costing", "skipped", result.UnitsSkipped)
	s.logger.Info("purchase order costs recomputed",
		slog.Int64("purchase_order_id", poID),
		slog.Int("revalued", result.UnitsRevalued),
		slog.Int("skipped", result.UnitsSkipped))
	return result, nil
}

func (s *Service) revalueLine(ctx context.Context, tx inventory.Tx, line inventory.PurchaseLine, result *OrderResult, now time.Time) error {
	linked, err := tx.ListUnitsByPurchaseLine(ctx, line.ID)
	if err != nil {
		return err
	}
	ids := make([]int64, len(linked))
	for i, u := range linked {
		ids[i] = u.ID
	}
	units, err := tx.LockUnits(ctx, ids)
	if err != nil {
		return err
	}
	for _, u := range units {
		if isSold(u.Status) && !s.cfg.RevalueSoldUnits {
			result.UnitsSkipped++
			continue
		}
		if u.PurchaseCost.Equal(line.ComposedCostBase) {
			result.UnitsUnchanged++
			continue
		}
		previous := u.PurchaseCost
		u.PurchaseCost = line.ComposedCostBase
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   "unit.revalued",
			Entity:   "inventory_unit",
			EntityID: strconv.FormatInt(u.ID, 10),
			Meta: map[string]any{
				"purchase_line_id": line.ID,
				"status":           string(u.Status),
				"previous_cost":    previous.String(),
				"new_cost":         u.PurchaseCost.String(),
			},
			At: now,
		})
		if err != nil {
			return err
		}
		result.UnitsRevalued++
	}
	return nil
}

// lineReader is the read surface loadInputs needs; both Store and Tx satisfy it.
type lineReader interface {
	ListPurchaseLines(ctx context.Context, orderID int64) ([]inventory.PurchaseLine, error)
	GetProduct(ctx context.Context, id int64) (inventory.Product, error)
}

func loadInputs(ctx context.Context, r lineReader, poID int64) ([]LineInput, error) {
	lines, err := r.ListPurchaseLines(ctx, poID)
	if err != nil {
		return nil, err
	}
	products := map[int64]inventory.Product{}
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			p, err = r.GetProduct(ctx, l.ProductID)
			if err != nil {
				return nil, err
			}
			products[l.ProductID] = p
		}
		out = append(out, LineInput{Line: l, Product: p})
	}
	return out, nil
}

func isSold(s inventory.UnitStatus) bool {
	return s == inventory.StatusSold || s == inventory.StatusPreSold
}
