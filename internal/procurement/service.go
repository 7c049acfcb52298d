package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

const idempotencyModule = "procurement.purchase_order"

// Service orchestrates purchase intake.
type Service struct {
	store     inventory.Store
	claims    KeyClaimer
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service. claims may be nil, in which
// case duplicate numbers are not detected.
func NewService(store inventory.Store, claims KeyClaimer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		claims:    claims,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterOrder persists an ordered purchase order and one in_transit unit
// per ordered piece. A number that was already registered returns
// shared.ErrIdempotencyConflict.
func (s *Service) RegisterOrder(ctx context.Context, in RegisterInput, actorID int64) (RegisterResult, error) {
	if err := s.validate(in); err != nil {
		return RegisterResult{}, err
	}
	for i, line := range in.Lines {
		if line.UnitCost.IsNegative() {
			return RegisterResult{}, shared.Validationf("procurement: line %d unit cost is negative", i)
		}
	}
	for _, v := range []decimal.Decimal{in.ExchangeRate, in.ShippingCost, in.TaxCost, in.OtherCost} {
		if v.IsNegative() {
			return RegisterResult{}, shared.Validationf("procurement: costs and exchange rate must not be negative")
		}
	}

	key := shared.IdempotencyKey("PO", in.Number)
	claimed := false
	if s.claims != nil {
		if err := s.claims.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return RegisterResult{}, err
		}
		claimed = true
	}

	var res RegisterResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		now := s.now()
		po, err := tx.InsertPurchaseOrder(ctx, inventory.PurchaseOrder{
			Number:       in.Number,
			SupplierRef:  in.SupplierRef,
			Status:       inventory.PurchaseOrdered,
			Currency:     strings.ToUpper(in.Currency),
			ExchangeRate: in.ExchangeRate,
			ShippingCost: in.ShippingCost,
			TaxCost:      in.TaxCost,
			OtherCost:    in.OtherCost,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}

		subtotal := decimal.Zero
		for _, li := range in.Lines {
			if _, err := tx.GetProduct(ctx, li.ProductID); err != nil {
				return err
			}
			line, err := tx.InsertPurchaseLine(ctx, inventory.PurchaseLine{
				PurchaseOrderID: po.ID,
				ProductID:       li.ProductID,
				Quantity:        li.Quantity,
				UnitCost:        li.UnitCost,
			})
			if err != nil {
				return err
			}
			res.Lines = append(res.Lines, line)
			subtotal = subtotal.Add(li.UnitCost.Mul(decimal.NewFromInt(int64(li.Quantity))))

			cond := li.Condition
			if cond == "" {
				cond = inventory.ConditionBrandNew
			}
			units := make([]inventory.Unit, li.Quantity)
			for i := range units {
				units[i] = inventory.Unit{
					ProductID:       li.ProductID,
					Status:          inventory.StatusInTransit,
					Condition:       cond,
					PurchaseCost:    li.UnitCost,
					PurchaseOrderID: po.ID,
					PurchaseLineID:  line.ID,
					StatusChangedAt: now,
					CreatedAt:       now,
				}
			}
			if _, err := tx.InsertUnits(ctx, units); err != nil {
				return err
			}
			res.UnitsCreated += len(units)
		}

		po.Subtotal = subtotal.Round(2)
		po.Total = po.Subtotal.Add(po.SharedCost()).Round(2)
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		res.Order = po
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "purchase_order.registered",
			Entity:   "purchase_order",
			EntityID: strconv.FormatInt(po.ID, 10),
			Meta:     map[string]any{"number": po.Number, "units": res.UnitsCreated},
			At:       now,
		})
	})
	if err != nil {
		if claimed {
			if derr := s.claims.Delete(context.WithoutCancel(ctx), key); derr != nil {
				s.logger.Warn("release purchase order key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return RegisterResult{}, err
	}
	s.logger.Info("purchase order registered",
		slog.Int64("purchase_order_id", res.Order.ID),
		slog.String("number", res.Order.Number),
		slog.Int("units", res.UnitsCreated))
	return res, nil
}

// Receive marks an ordered purchase order delivered and moves its units one
// stage forward. Units already past the inbound stages are left alone.
func (s *Service) Receive(ctx context.Context, purchaseOrderID, actorID int64) (ReceiveResult, error) {
	var res ReceiveResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, purchaseOrderID)
		if err != nil {
			return err
		}
		if po.Status != inventory.PurchaseOrdered {
			return fmt.Errorf("%w: purchase order %d is %s", shared.ErrInvalidTransition, po.ID, po.Status)
		}
		lines, err := tx.ListPurchaseLines(ctx, po.ID)
		if err != nil {
			return err
		}
		var ids []int64
		for _, line := range lines {
			units, err := tx.ListUnitsByPurchaseLine(ctx, line.ID)
			if err != nil {
				return err
			}
			for _, u := range units {
				ids = append(ids, u.ID)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		locked, err := tx.LockUnits(ctx, ids)
		if err != nil {
			return err
		}

		now := s.now()
		grew := map[int64]struct{}{}
		for _, u := range locked {
			next, err := inventory.Transition(u.Status, inventory.EventReceive)
			if err != nil {
				if errors.Is(err, shared.ErrInvalidTransition) {
					res.UnitsSkipped++
					continue
				}
				return err
			}
			if next == inventory.StatusAvailable {
				grew[u.ProductID] = struct{}{}
			}
			u.Status = next
			u.StatusChangedAt = now
			if err := tx.UpdateUnit(ctx, u); err != nil {
				return err
			}
			res.UnitsReceived++
		}
		for id := range grew {
			res.ProductIDs = append(res.ProductIDs, id)
		}
		sort.Slice(res.ProductIDs, func(i, j int) bool { return res.ProductIDs[i] < res.ProductIDs[j] })

		po.Status = inventory.PurchaseDelivered
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		res.Order = po
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "purchase_order.received",
			Entity:   "purchase_order",
			EntityID: strconv.FormatInt(po.ID, 10),
			Meta:     map[string]any{"received": res.UnitsReceived, "skipped": res.UnitsSkipped},
			At:       now,
		})
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	return res, nil
}

// Get returns a purchase order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (inventory.PurchaseOrder, []inventory.PurchaseLine, error) {
	po, err := s.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return inventory.PurchaseOrder{}, nil, err
	}
	lines, err := s.store.ListPurchaseLines(ctx, id)
	if err != nil {
		return inventory.PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (s *Service) validate(in RegisterInput) error {
	err := s.validator.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return shared.Validationf("procurement: %v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return shared.Validationf("procurement: %s", strings.Join(msgs, "; "))
}
