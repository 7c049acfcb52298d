package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus enumerates adjustment batch states.
type BatchStatus string

const (
	BatchDraft   BatchStatus = "draft"
	BatchApplied BatchStatus = "applied"
)

// Direction tells whether a line adds or removes pieces.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// Reason explains a manual correction.
type Reason string

const (
	ReasonFound     Reason = "found"
	ReasonRecount   Reason = "recount"
	ReasonLost      Reason = "lost"
	ReasonDamaged   Reason = "damaged"
	ReasonScrap     Reason = "scrap"
	ReasonMarketing Reason = "marketing"
)

// Direction returns the only direction the reason may be used with.
func (r Reason) Direction() (Direction, error) {
	switch r {
	case ReasonFound, ReasonRecount:
		return DirectionIncrease, nil
	case ReasonLost, ReasonDamaged, ReasonScrap, ReasonMarketing:
		return DirectionDecrease, nil
	}
	return "", fmt.Errorf("inventory: unknown adjustment reason %q", r)
}

// MarkEvent maps a decrease reason onto the unit event it triggers.
func (r Reason) MarkEvent() (Event, error) {
	switch r {
	case ReasonLost:
		return EventMarkLost, nil
	case ReasonDamaged:
		return EventMarkDamaged, nil
	case ReasonScrap:
		return EventMarkScrap, nil
	case ReasonMarketing:
		return EventMarkMarketing, nil
	case ReasonFound, ReasonRecount:
		return "", fmt.Errorf("inventory: reason %q does not mark units", r)
	}
	return "", fmt.Errorf("inventory: unknown adjustment reason %q", r)
}

// EntryAction is the audited action applied to a unit.
type EntryAction string

const (
	ActionCreated         EntryAction = "created"
	ActionMarkedLost      EntryAction = "marked_lost"
	ActionMarkedDamaged   EntryAction = "marked_damaged"
	ActionMarkedScrap     EntryAction = "marked_scrap"
	ActionMarkedMarketing EntryAction = "marked_marketing"
)

// MarkedAction names the entry action for a terminal status.
func MarkedAction(status UnitStatus) (EntryAction, error) {
	switch status {
	case StatusLost:
		return ActionMarkedLost, nil
	case StatusDamaged:
		return ActionMarkedDamaged, nil
	case StatusScrap:
		return ActionMarkedScrap, nil
	case StatusMarketing:
		return ActionMarkedMarketing, nil
	}
	return "", fmt.Errorf("inventory: status %q is not an adjustment target", status)
}

// Batch groups manual corrections applied atomically.
type Batch struct {
	ID        int64
	Reference string
	Status    BatchStatus
	Note      string
	CreatedBy int64
	AppliedAt time.Time
	AppliedBy int64
	CreatedAt time.Time
	Lines     []AdjustmentLine
	Entries   []AdjustmentEntry
}

// AdjustmentLine is one product correction inside a batch.
type AdjustmentLine struct {
	ID        int64
	BatchID   int64
	ProductID int64
	Quantity  int
	Direction Direction
	Reason    Reason
	UnitCost  decimal.Decimal
	Condition Condition
}

// AdjustmentEntry records the action taken on one unit.
type AdjustmentEntry struct {
	ID             int64
	BatchID        int64
	LineID         int64
	UnitID         int64
	Action         EntryAction
	PreviousStatus UnitStatus
}
