package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input such as non-positive quantities.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates demand that cannot be covered by stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrentReservation indicates stock was claimed by a concurrent reservation
	// between the advisory check and the locked re-validation.
	ErrConcurrentReservation = errors.New("stock lost to concurrent reservation")
	// ErrLockTimeout indicates a row lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrAlreadyApplied indicates an adjustment batch was applied before.
	ErrAlreadyApplied = errors.New("adjustment batch already applied")
	// ErrNotApplied indicates reversal of a batch that is not applied.
	ErrNotApplied = errors.New("adjustment batch not applied")
	// ErrNotReversible indicates reversal blocked by downstream consumption.
	ErrNotReversible = errors.New("adjustment batch not reversible")
	// ErrInvalidTransition indicates an unsupported (status, event) pair.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// StockShortReason distinguishes why demand could not be reserved.
type StockShortReason string

const (
	// ReasonNoDeferral means there is no stock and neither preorder nor backorder is allowed.
	ReasonNoDeferral StockShortReason = "no_deferral"
	// ReasonLostToConcurrent means stock disappeared while waiting for the row locks.
	ReasonLostToConcurrent StockShortReason = "lost_to_concurrent"
	// ReasonPoolTooSmall means a decrease exceeds the free pool.
	ReasonPoolTooSmall StockShortReason = "pool_too_small"
)

// InsufficientStockError carries the shortage detail for a product.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
	Reason    StockShortReason
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d (%s)", e.ProductID, e.Requested, e.Available, e.Reason)
}

// Is lets errors.Is match both the generic shortage and, for lost races, ErrConcurrentReservation.
func (e *InsufficientStockError) Is(target error) bool {
	switch target {
	case ErrInsufficientStock:
		return true
	case ErrConcurrentReservation:
		return e.Reason == ReasonLostToConcurrent
	}
	return false
}

// Validationf wraps ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
