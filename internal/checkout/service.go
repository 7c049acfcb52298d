// Package checkout turns a cart into a pending sale order with reserved units
// or deferred demand in a single transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// LineRequest is one cart line.
type LineRequest struct {
	ProductID int64               `json:"product_id" validate:"required,gt=0"`
	Quantity  int                 `json:"quantity" validate:"required,gt=0"`
	Condition inventory.Condition `json:"condition" validate:"omitempty,oneof=brand_new misb mint loose damaged_box"`
}

// Request is a checkout submission.
type Request struct {
	PartyID          int64             `json:"party_id" validate:"required,gt=0"`
	Lines            []LineRequest     `json:"lines" validate:"required,min=1,dive"`
	ShippingAddress  inventory.Address `json:"shipping_address"`
	ShippingMethod   string            `json:"shipping_method" validate:"required"`
	PaymentMethod    string            `json:"payment_method" validate:"required"`
	IdempotencyToken string            `json:"idempotency_token" validate:"required,max=128"`
}

// Result is the persisted order. Replayed is set when the token was seen
// before and nothing new was created.
type Result struct {
	Order           inventory.SaleOrder             `json:"order"`
	Lines           []inventory.SaleLine            `json:"lines"`
	Reservations    []inventory.PreorderReservation `json:"reservations"`
	ReservedUnitIDs []int64                         `json:"reserved_unit_ids"`
	Replayed        bool                            `json:"replayed"`
}

// Service runs checkouts.
type Service struct {
	store     inventory.Store
	shipping  *Registry
	validator *validator.Validate
	logger    *slog.Logger
	metrics   *observability.EngineMetrics
	now       func() time.Time

	// afterPrecheck runs between the advisory split and the transaction.
	afterPrecheck func()
}

// Option customises Service.
type Option func(*Service)

// WithMetrics records checkout outcomes.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs Service.
func NewService(store inventory.Store, shipping *Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		shipping:  shipping,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type mergedLine struct {
	LineRequest
	advisory inventory.Availability
}

// productGroup is the merged demand for one product. Condition-specific lines
// come before the unconditioned one, which is served from what they leave.
type productGroup struct {
	productID int64
	lines     []mergedLine
}

func (g productGroup) requested() int {
	n := 0
	for _, l := range g.lines {
		n += l.Quantity
	}
	return n
}

func (g productGroup) hasCondition() bool {
	for _, l := range g.lines {
		if l.Condition != "" {
			return true
		}
	}
	return false
}

// splitGroup divides every line of a product against one free pool of total
// units, byCond of which carry each condition.
func splitGroup(product inventory.Product, lines []mergedLine, total int, byCond map[inventory.Condition]int) []inventory.Availability {
	out := make([]inventory.Availability, len(lines))
	used := 0
	for i, l := range lines {
		onHand := total - used
		if l.Condition != "" {
			onHand = byCond[l.Condition]
		}
		out[i] = inventory.SplitAvailability(product, onHand, l.Quantity)
		used += out[i].Immediate
	}
	return out
}

// Checkout validates the cart, confirms stock and persists the order.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	res, err := s.checkout(ctx, req)
	s.metrics.CheckoutOutcome(outcome(res, err))
	return res, err
}

func (s *Service) checkout(ctx context.Context, req Request) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	if prior, ok, err := s.store.FindSaleOrderByToken(ctx, req.PartyID, req.IdempotencyToken); err != nil {
		return Result{}, fmt.Errorf("checkout: lookup token: %w", err)
	} else if ok {
		return s.replay(ctx, prior)
	}
	strategy, err := s.shipping.Lookup(req.ShippingMethod)
	if err != nil {
		return Result{}, err
	}

	groups := groupLines(req.Lines)
	for i := range groups {
		if err := s.precheck(ctx, &groups[i]); err != nil {
			return Result{}, err
		}
	}
	if s.afterPrecheck != nil {
		s.afterPrecheck()
	}

	var result Result
	err = s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		var err error
		result, err = s.reserve(ctx, tx, req, groups, strategy)
		return err
	})
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		prior, ok, lookupErr := s.store.FindSaleOrderByToken(ctx, req.PartyID, req.IdempotencyToken)
		if lookupErr != nil {
			return Result{}, fmt.Errorf("checkout: lookup token: %w", lookupErr)
		}
		if ok {
			return s.replay(ctx, prior)
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("checkout: %w", err)
	}

	s.metrics.UnitsReserved(string(inventory.SourceCheckout), len(result.ReservedUnitIDs))
	s.logger.Info("checkout completed",
		slog.Int64("sale_order_id", result.Order.ID),
		slog.Int64("party_id", req.PartyID),
		slog.Int("units", len(result.ReservedUnitIDs)),
		slog.Int("reservations", len(result.Reservations)))
	return result, nil
}

func (s *Service) reserve(ctx context.Context, tx inventory.Tx, req Request, groups []productGroup, strategy Strategy) (Result, error) {
	now := s.now()
	order, err := tx.InsertSaleOrder(ctx, inventory.SaleOrder{
		Number:         inventory.NewReference("SO"),
		PartyID:        req.PartyID,
		Status:         inventory.SalePending,
		ShippingMethod: req.ShippingMethod,
		PaymentMethod:  req.PaymentMethod,
		ShippingCost:   decimal.Zero,
		Subtotal:       decimal.Zero,
		Total:          decimal.Zero,
		CheckoutToken:  req.IdempotencyToken,
		CreatedAt:      now,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Order: order}
	parcel := Parcel{Subtotal: decimal.Zero}
	for _, g := range groups {
		product, avs, picked, err := s.lockGroup(ctx, tx, g)
		if err != nil {
			return Result{}, err
		}
		for i, ml := range g.lines {
			if err := s.reserveLine(ctx, tx, req, order, product, ml, avs[i], picked[i], now, &result, &parcel); err != nil {
				return Result{}, err
			}
		}
	}

	subtotal := decimal.Zero
	for _, l := range result.Lines {
		subtotal = subtotal.Add(l.LineTotal)
	}
	parcel.Subtotal = subtotal
	order.Subtotal = subtotal
	order.ShippingCost = strategy.Quote(parcel)
	order.Total = subtotal.Add(order.ShippingCost)
	if err := tx.UpdateSaleOrder(ctx, order); err != nil {
		return Result{}, err
	}
	result.Order = order

	if err := tx.InsertAddress(ctx, order.ID, req.ShippingAddress); err != nil {
		return Result{}, err
	}
	if _, err := tx.InsertPayment(ctx, inventory.Payment{
		SaleOrderID: order.ID,
		Method:      req.PaymentMethod,
		Amount:      order.Total,
		Status:      inventory.PaymentPending,
	}); err != nil {
		return Result{}, err
	}
	err = tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   "sale_order.checkout",
		Entity:   "sale_order",
		EntityID: fmt.Sprint(order.ID),
		Meta: map[string]any{
			"party_id":     req.PartyID,
			"total":        order.Total.String(),
			"units":        len(result.ReservedUnitIDs),
			"reservations": len(result.Reservations),
		},
		At: now,
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Service) replay(ctx context.Context, order inventory.SaleOrder) (Result, error) {
	lines, err := s.store.ListSaleLines(ctx, order.ID)
	if err != nil {
		return Result{}, fmt.Errorf("checkout: replay lines: %w", err)
	}
	reservations, err := s.store.ListReservationsBySaleOrder(ctx, order.ID)
	if err != nil {
		return Result{}, fmt.Errorf("checkout: replay reservations: %w", err)
	}
	units, err := s.store.ListUnitsBySaleOrder(ctx, order.ID)
	if err != nil {
		return Result{}, fmt.Errorf("checkout: replay units: %w", err)
	}
	ids := make([]int64, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	s.logger.Info("checkout replayed", slog.Int64("sale_order_id", order.ID), slog.Int64("party_id", order.PartyID))
	return Result{Order: order, Lines: lines, Reservations: reservations, ReservedUnitIDs: ids, Replayed: true}, nil
}

func (s *Service) validate(req Request) error {
	err := s.validator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return shared.Validationf("checkout: %v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return shared.Validationf("checkout: %s", strings.Join(msgs, "; "))
}

// precheck splits g against committed stock and fills each line's advisory
// split. A shortfall the product cannot defer fails before any write.
func (s *Service) precheck(ctx context.Context, g *productGroup) error {
	product, err := s.store.GetProduct(ctx, g.productID)
	if err != nil {
		return fmt.Errorf("checkout: product %d: %w", g.productID, err)
	}
	total, err := s.store.CountFreeUnits(ctx, g.productID, "")
	if err != nil {
		return fmt.Errorf("checkout: count product %d: %w", g.productID, err)
	}
	byCond := map[inventory.Condition]int{}
	for _, l := range g.lines {
		if l.Condition == "" {
			continue
		}
		if byCond[l.Condition], err = s.store.CountFreeUnits(ctx, g.productID, l.Condition); err != nil {
			return fmt.Errorf("checkout: count product %d: %w", g.productID, err)
		}
	}
	for i, av := range splitGroup(product, g.lines, total, byCond) {
		if !av.Satisfiable() {
			return &shared.InsufficientStockError{
				ProductID: g.productID,
				Requested: g.requested(),
				Available: total,
				Reason:    shared.ReasonNoDeferral,
			}
		}
		g.lines[i].advisory = av
	}
	return nil
}

// lockGroup locks the product's free units once, re-splits the group inside
// the lock and hands each line its units, oldest first. Any line left with
// less than its advisory immediate quantity lost the units to another
// checkout.
func (s *Service) lockGroup(ctx context.Context, tx inventory.Tx, g productGroup) (inventory.Product, []inventory.Availability, [][]inventory.Unit, error) {
	product, err := tx.GetProduct(ctx, g.productID)
	if err != nil {
		return inventory.Product{}, nil, nil, err
	}
	wanted := 0
	for _, l := range g.lines {
		wanted += l.advisory.Immediate
	}
	var locked []inventory.Unit
	if wanted > 0 {
		q := inventory.UnitQuery{ProductID: g.productID, Statuses: []inventory.UnitStatus{inventory.StatusAvailable}}
		if !g.hasCondition() {
			q.Limit = wanted
		}
		if locked, err = tx.LockFreeUnits(ctx, q); err != nil {
			return inventory.Product{}, nil, nil, err
		}
	}

	byCond := map[inventory.Condition]int{}
	for _, u := range locked {
		byCond[u.Condition]++
	}
	avs := splitGroup(product, g.lines, len(locked), byCond)
	picked := make([][]inventory.Unit, len(g.lines))
	taken := make(map[int64]struct{}, len(locked))
	for i, l := range g.lines {
		if avs[i].Immediate < l.advisory.Immediate {
			return inventory.Product{}, nil, nil, &shared.InsufficientStockError{
				ProductID: g.productID,
				Requested: l.Quantity,
				Available: avs[i].Immediate,
				Reason:    shared.ReasonLostToConcurrent,
			}
		}
		for _, u := range locked {
			if len(picked[i]) == avs[i].Immediate {
				break
			}
			if _, ok := taken[u.ID]; ok || (l.Condition != "" && u.Condition != l.Condition) {
				continue
			}
			taken[u.ID] = struct{}{}
			picked[i] = append(picked[i], u)
		}
	}
	return product, avs, picked, nil
}

func (s *Service) reserveLine(ctx context.Context, tx inventory.Tx, req Request, order inventory.SaleOrder, product inventory.Product,
	ml mergedLine, av inventory.Availability, locked []inventory.Unit, now time.Time, result *Result, parcel *Parcel) error {
	line := inventory.SaleLine{
		SaleOrderID: order.ID,
		ProductID:   ml.ProductID,
		Quantity:    ml.Quantity,
		Condition:   ml.Condition,
		UnitPrice:   product.Price,
		LineTotal:   product.Price.Mul(decimal.NewFromInt(int64(ml.Quantity))),
	}
	switch av.Deferral {
	case inventory.DeferralPreorder:
		line.PreorderQty = av.Pending
	case inventory.DeferralBackorder:
		line.BackorderQty = av.Pending
	}
	line, err := tx.InsertSaleLine(ctx, line)
	if err != nil {
		return err
	}
	result.Lines = append(result.Lines, line)

	ids, err := inventory.ReserveUnits(ctx, tx, locked, inventory.SaleDemand{OrderID: order.ID, LineID: line.ID}, inventory.SourceCheckout, now)
	if err != nil {
		return err
	}
	result.ReservedUnitIDs = append(result.ReservedUnitIDs, ids...)

	if line.PreorderQty > 0 {
		r, err := tx.InsertReservation(ctx, inventory.PreorderReservation{
			ProductID:   ml.ProductID,
			PartyID:     req.PartyID,
			Quantity:    line.PreorderQty,
			Status:      inventory.ReservationPending,
			ReservedAt:  now,
			SaleOrderID: order.ID,
			SaleLineID:  line.ID,
		})
		if err != nil {
			return err
		}
		result.Reservations = append(result.Reservations, r)
	}
	parcel.Items = append(parcel.Items, ParcelItem{Product: product, Quantity: ml.Quantity})
	return nil
}

// groupLines folds repeated (product, condition) lines and groups them by
// product. Products are ordered by id so concurrent checkouts lock rows in
// the same order.
func groupLines(in []LineRequest) []productGroup {
	index := map[int64]int{}
	var out []productGroup
	for _, l := range in {
		gi, ok := index[l.ProductID]
		if !ok {
			gi = len(out)
			index[l.ProductID] = gi
			out = append(out, productGroup{productID: l.ProductID})
		}
		g := &out[gi]
		merged := false
		for i := range g.lines {
			if g.lines[i].Condition == l.Condition {
				g.lines[i].Quantity += l.Quantity
				merged = true
				break
			}
		}
		if !merged {
			g.lines = append(g.lines, mergedLine{LineRequest: l})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	for _, g := range out {
		sort.SliceStable(g.lines, func(i, j int) bool {
			a, b := g.lines[i].Condition, g.lines[j].Condition
			if (a == "") != (b == "") {
				return b == ""
			}
			return a < b
		})
	}
	return out
}

func outcome(res Result, err error) string {
	var short *shared.InsufficientStockError
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "created"
	case errors.As(err, &short):
		return string(short.Reason)
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	case errors.Is(err, shared.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
