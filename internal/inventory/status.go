package inventory

import (
	"fmt"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// Event drives a unit status transition.
type Event string

const (
	EventReceive       Event = "receive"
	EventReserve       Event = "reserve"
	EventRelease       Event = "release"
	EventSell          Event = "sell"
	EventMarkLost      Event = "mark_lost"
	EventMarkDamaged   Event = "mark_damaged"
	EventMarkScrap     Event = "mark_scrap"
	EventMarkMarketing Event = "mark_marketing"
	EventMarkReturned  Event = "mark_returned"
	EventRestore       Event = "restore"
)

// Transition is the only place unit statuses change. Pairs not listed
// return ErrInvalidTransition.
func Transition(from UnitStatus, ev Event) (UnitStatus, error) {
	switch ev {
	case EventReceive:
		switch from {
		case StatusInTransit:
			return StatusAvailable, nil
		case StatusPreReserved:
			return StatusReserved, nil
		case StatusPreSold:
			return StatusSold, nil
		}
	case EventReserve:
		switch from {
		case StatusAvailable:
			return StatusReserved, nil
		case StatusInTransit:
			return StatusPreReserved, nil
		}
	case EventRelease:
		switch from {
		case StatusReserved:
			return StatusAvailable, nil
		case StatusPreReserved:
			return StatusInTransit, nil
		}
	case EventSell:
		switch from {
		case StatusReserved:
			return StatusSold, nil
		case StatusPreReserved:
			return StatusPreSold, nil
		}
	case EventMarkLost, EventMarkDamaged, EventMarkScrap, EventMarkMarketing:
		if from.IsTerminal() {
			break
		}
		return markTarget(ev), nil
	case EventMarkReturned:
		if from == StatusSold {
			return StatusReturned, nil
		}
	case EventRestore:
		switch from {
		case StatusLost, StatusDamaged, StatusScrap, StatusMarketing:
			return StatusAvailable, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %s", shared.ErrInvalidTransition, ev, from)
}

func markTarget(ev Event) UnitStatus {
	switch ev {
	case EventMarkLost:
		return StatusLost
	case EventMarkDamaged:
		return StatusDamaged
	case EventMarkScrap:
		return StatusScrap
	default:
		return StatusMarketing
	}
}

// DeriveStatus computes the status a unit should carry from its purchase
// order and optional sale order. ok is false when no rule applies (draft or
// cancelled purchase orders).
func DeriveStatus(po PurchaseStatus, so *SaleStatus) (UnitStatus, bool) {
	sale := saleStage(so)
	switch po {
	case PurchaseOrdered:
		switch sale {
		case stagePending:
			return StatusPreReserved, true
		case stageCommitted:
			return StatusPreSold, true
		default:
			return StatusInTransit, true
		}
	case PurchaseDelivered:
		switch sale {
		case stagePending:
			return StatusReserved, true
		case stageCommitted:
			return StatusSold, true
		default:
			return StatusAvailable, true
		}
	}
	return "", false
}

type stage int

const (
	stageNone stage = iota
	stagePending
	stageCommitted
)

func saleStage(so *SaleStatus) stage {
	if so == nil {
		return stageNone
	}
	switch *so {
	case SalePending:
		return stagePending
	case SaleConfirmed, SaleShipped, SaleDelivered:
		return stageCommitted
	}
	return stageNone
}
