// Package adjustments applies and reverses manual stock corrections.
package adjustments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockengine/internal/inventory"
	"github.com/odyssey-erp/stockengine/internal/shared"
)

// LineInput describes one correction line.
type LineInput struct {
	ProductID int64               `json:"product_id" validate:"required,gt=0"`
	Quantity  int                 `json:"quantity" validate:"required,gt=0"`
	Reason    inventory.Reason    `json:"reason" validate:"required,oneof=found recount lost damaged scrap marketing"`
	UnitCost  decimal.Decimal     `json:"unit_cost"`
	Condition inventory.Condition `json:"condition" validate:"omitempty,oneof=brand_new misb mint loose damaged_box"`
}

// CreateInput is a new draft batch.
type CreateInput struct {
	Note  string      `json:"note" validate:"max=500"`
	Lines []LineInput `json:"lines" validate:"dive"`
}

// ApplyResult reports an applied batch.
type ApplyResult struct {
	Batch        inventory.Batch `json:"batch"`
	UnitsCreated int             `json:"units_created"`
	UnitsMarked  int             `json:"units_marked"`
}

// ReverseResult reports a reversed batch.
type ReverseResult struct {
	Batch         inventory.Batch `json:"batch"`
	UnitsDeleted  int             `json:"units_deleted"`
	UnitsRestored int             `json:"units_restored"`
}

// Service runs the adjustment ledger.
type Service struct {
	store     inventory.Store
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService constructs Service.
func NewService(store inventory.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		logger:    logger,
		validator: validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch stores a draft batch with a generated reference.
func (s *Service) CreateBatch(ctx context.Context, in CreateInput, actorID int64) (inventory.Batch, error) {
	lines, err := s.validate(in)
	if err != nil {
		return inventory.Batch{}, err
	}
	var batch inventory.Batch
	err = s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		for _, l := range lines {
			if _, err := tx.GetProduct(ctx, l.ProductID); err != nil {
				return err
			}
		}
		batch, err = tx.InsertBatch(ctx, inventory.Batch{
			Reference: inventory.NewReference("ADJ"),
			Status:    inventory.BatchDraft,
			Note:      in.Note,
			CreatedBy: actorID,
			CreatedAt: s.now(),
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "adjustment.created",
			Entity:   "adjustment_batch",
			EntityID: strconv.FormatInt(batch.ID, 10),
			Meta:     map[string]any{"reference": batch.Reference, "lines": len(lines)},
			At:       batch.CreatedAt,
		})
	})
	if err != nil {
		return inventory.Batch{}, fmt.Errorf("adjustments: create batch: %w", err)
	}
	return batch, nil
}

// Get loads a batch with its lines and entries.
func (s *Service) Get(ctx context.Context, id int64) (inventory.Batch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return inventory.Batch{}, fmt.Errorf("adjustments: get batch %d: %w", id, err)
	}
	return b, nil
}

type plannedDecrease struct {
	line  inventory.AdjustmentLine
	units []inventory.Unit
}

// Apply executes every line of a draft batch or nothing at all. Decrease
// lines are checked against the free pool before the first write.
func (s *Service) Apply(ctx context.Context, batchID, actorID int64) (ApplyResult, error) {
	var result ApplyResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		result = ApplyResult{}
		b, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status == inventory.BatchApplied {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyApplied, b.Reference)
		}
		if len(b.Lines) == 0 {
			return shared.Validationf("adjustments: batch %s has no lines", b.Reference)
		}

		plan, err := planDecreases(ctx, tx, b.Lines)
		if err != nil {
			return err
		}

		now := s.now()
		var entries []inventory.AdjustmentEntry
		for _, l := range b.Lines {
			if l.Direction != inventory.DirectionIncrease {
				continue
			}
			created, err := tx.InsertUnits(ctx, newUnits(l, b.Reference, now))
			if err != nil {
				return err
			}
			for _, u := range created {
				entries = append(entries, inventory.AdjustmentEntry{BatchID: b.ID, LineID: l.ID, UnitID: u.ID, Action: inventory.ActionCreated})
			}
			result.UnitsCreated += len(created)
		}
		for _, p := range plan {
			ev, err := p.line.Reason.MarkEvent()
			if err != nil {
				return err
			}
			for _, u := range p.units {
				previous := u.Status
				next, err := inventory.Transition(u.Status, ev)
				if err != nil {
					return err
				}
				action, err := inventory.MarkedAction(next)
				if err != nil {
					return err
				}
				u.Status = next
				u.StatusChangedAt = now
				if err := tx.UpdateUnit(ctx, u); err != nil {
					return err
				}
				entries = append(entries, inventory.AdjustmentEntry{BatchID: b.ID, LineID: p.line.ID, UnitID: u.ID, Action: action, PreviousStatus: previous})
				result.UnitsMarked++
			}
		}
		if err := tx.InsertEntries(ctx, entries); err != nil {
			return err
		}

		b.Status = inventory.BatchApplied
		b.AppliedAt = now
		b.AppliedBy = actorID
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}
		b.Entries = entries
		result.Batch = b
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "adjustment.applied",
			Entity:   "adjustment_batch",
			EntityID: strconv.FormatInt(b.ID, 10),
			Meta:     map[string]any{"reference": b.Reference, "created": result.UnitsCreated, "marked": result.UnitsMarked},
			At:       now,
		})
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("adjustments: apply batch %d: %w", batchID, err)
	}
	s.logger.Info("adjustment batch applied",
		slog.String("reference", result.Batch.Reference),
		slog.Int("created", result.UnitsCreated),
		slog.Int("marked", result.UnitsMarked))
	return result, nil
}

// planDecreases locks the free pool of every decreased product and picks the
// oldest units per line. A product whose pool cannot cover all its decrease
// lines fails the whole batch.
func planDecreases(ctx context.Context, tx inventory.Tx, lines []inventory.AdjustmentLine) ([]plannedDecrease, error) {
	requested := map[int64]int{}
	var order []int64
	for _, l := range lines {
		if l.Direction != inventory.DirectionDecrease {
			continue
		}
		if _, ok := requested[l.ProductID]; !ok {
			order = append(order, l.ProductID)
		}
		requested[l.ProductID] += l.Quantity
	}

	pools := map[int64][]inventory.Unit{}
	for _, productID := range order {
		pool, err := tx.LockFreeUnits(ctx, inventory.UnitQuery{ProductID: productID, Statuses: []inventory.UnitStatus{inventory.StatusAvailable}})
		if err != nil {
			return nil, err
		}
		if len(pool) < requested[productID] {
			return nil, &shared.InsufficientStockError{ProductID: productID, Requested: requested[productID], Available: len(pool), Reason: shared.ReasonPoolTooSmall}
		}
		pools[productID] = pool
	}

	taken := map[int64]struct{}{}
	var plan []plannedDecrease
	for _, l := range lines {
		if l.Direction != inventory.DirectionDecrease {
			continue
		}
		p := plannedDecrease{line: l}
		for _, u := range pools[l.ProductID] {
			if len(p.units) == l.Quantity {
				break
			}
			if _, used := taken[u.ID]; used {
				continue
			}
			if l.Condition != "" && u.Condition != l.Condition {
				continue
			}
			taken[u.ID] = struct{}{}
			p.units = append(p.units, u)
		}
		if len(p.units) < l.Quantity {
			return nil, &shared.InsufficientStockError{ProductID: l.ProductID, Requested: requested[l.ProductID], Available: len(pools[l.ProductID]), Reason: shared.ReasonPoolTooSmall}
		}
		plan = append(plan, p)
	}
	return plan, nil
}

func newUnits(l inventory.AdjustmentLine, reference string, now time.Time) []inventory.Unit {
	cond := l.Condition
	if cond == "" {
		cond = inventory.ConditionBrandNew
	}
	units := make([]inventory.Unit, l.Quantity)
	for i := range units {
		units[i] = inventory.Unit{
			ProductID:       l.ProductID,
			Status:          inventory.StatusAvailable,
			Condition:       cond,
			PurchaseCost:    l.UnitCost,
			AdjustmentRef:   reference,
			StatusChangedAt: now,
			CreatedAt:       now,
		}
	}
	return units
}

// Reverse undoes an applied batch when none of its units moved on since.
func (s *Service) Reverse(ctx context.Context, batchID, actorID int64) (ReverseResult, error) {
	var result ReverseResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		result = ReverseResult{}
		b, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status != inventory.BatchApplied {
			return fmt.Errorf("%w: %s", shared.ErrNotApplied, b.Reference)
		}
		ids := make([]int64, len(b.Entries))
		for i, e := range b.Entries {
			ids[i] = e.UnitID
		}
		locked, err := tx.LockUnits(ctx, ids)
		if err != nil {
			return err
		}
		units := make(map[int64]inventory.Unit, len(locked))
		for _, u := range locked {
			units[u.ID] = u
		}

		now := s.now()
		var deletes []int64
		var restores []inventory.Unit
		for _, e := range b.Entries {
			u, ok := units[e.UnitID]
			if !ok {
				return fmt.Errorf("%w: unit %d no longer exists", shared.ErrNotReversible, e.UnitID)
			}
			if e.Action == inventory.ActionCreated {
				if u.Status != inventory.StatusAvailable || u.Linked() {
					return fmt.Errorf("%w: created unit %d is %s", shared.ErrNotReversible, u.ID, u.Status)
				}
				deletes = append(deletes, u.ID)
				continue
			}
			marked, err := markedStatus(e.Action)
			if err != nil {
				return err
			}
			if u.Status != marked {
				return fmt.Errorf("%w: unit %d is %s, expected %s", shared.ErrNotReversible, u.ID, u.Status, marked)
			}
			next, err := inventory.Transition(u.Status, inventory.EventRestore)
			if err != nil {
				return err
			}
			if next != e.PreviousStatus {
				return fmt.Errorf("%w: unit %d cannot return to %s", shared.ErrNotReversible, u.ID, e.PreviousStatus)
			}
			u.Status = next
			u.StatusChangedAt = now
			restores = append(restores, u)
		}

		if len(deletes) > 0 {
			if err := tx.DeleteUnits(ctx, deletes); err != nil {
				return err
			}
		}
		for _, u := range restores {
			if err := tx.UpdateUnit(ctx, u); err != nil {
				return err
			}
		}
		if err := tx.DeleteEntries(ctx, b.ID); err != nil {
			return err
		}
		b.Status = inventory.BatchDraft
		b.AppliedAt = time.Time{}
		b.AppliedBy = 0
		b.Entries = nil
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}
		result = ReverseResult{Batch: b, UnitsDeleted: len(deletes), UnitsRestored: len(restores)}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "adjustment.reversed",
			Entity:   "adjustment_batch",
			EntityID: strconv.FormatInt(b.ID, 10),
			Meta:     map[string]any{"reference": b.Reference, "deleted": len(deletes), "restored": len(restores)},
			At:       now,
		})
	})
	if err != nil {
		return ReverseResult{}, fmt.Errorf("adjustments: reverse batch %d: %w", batchID, err)
	}
	s.logger.Info("adjustment batch reversed",
		slog.String("reference", result.Batch.Reference),
		slog.Int("deleted", result.UnitsDeleted),
		slog.Int("restored", result.UnitsRestored))
	return result, nil
}

func markedStatus(a inventory.EntryAction) (inventory.UnitStatus, error) {
	switch a {
	case inventory.ActionMarkedLost:
		return inventory.StatusLost, nil
	case inventory.ActionMarkedDamaged:
		return inventory.StatusDamaged, nil
	case inventory.ActionMarkedScrap:
		return inventory.StatusScrap, nil
	case inventory.ActionMarkedMarketing:
		return inventory.StatusMarketing, nil
	case inventory.ActionCreated:
	}
	return "", fmt.Errorf("adjustments: action %q does not mark units", a)
}

func (s *Service) validate(in CreateInput) ([]inventory.AdjustmentLine, error) {
	if err := s.validator.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, shared.Validationf("adjustments: %v", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return nil, shared.Validationf("adjustments: %s", strings.Join(msgs, "; "))
	}
	lines := make([]inventory.AdjustmentLine, 0, len(in.Lines))
	for i, l := range in.Lines {
		dir, err := l.Reason.Direction()
		if err != nil {
			return nil, shared.Validationf("adjustments: line %d: %v", i, err)
		}
		if l.UnitCost.IsNegative() {
			return nil, shared.Validationf("adjustments: line %d: unit cost must not be negative", i)
		}
		if dir == inventory.DirectionDecrease && !l.UnitCost.IsZero() {
			return nil, shared.Validationf("adjustments: line %d: unit cost only applies to increases", i)
		}
		lines = append(lines, inventory.AdjustmentLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Direction: dir,
			Reason:    l.Reason,
			UnitCost:  l.UnitCost,
			Condition: l.Condition,
		})
	}
	return lines, nil
}
