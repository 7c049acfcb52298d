package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// ErrBadRequest marks malformed request bodies or parameters.
var ErrBadRequest = errors.New("bad request")

// stockProblem extends the problem document with shortage details.
type stockProblem struct {
	ProblemDetail
	ProductID int64  `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var short *shared.InsufficientStockError
	switch {
	case errors.As(err, &short):
		status := http.StatusUnprocessableEntity
		if short.Reason == shared.ReasonLostToConcurrent {
			status = http.StatusConflict
		}
		write(w, "application/problem+json", status, stockProblem{
			ProblemDetail: ProblemDetail{Type: "insufficient-stock", Title: "Insufficient Stock", Status: status, Detail: err.Error()},
			ProductID:     short.ProductID,
			Requested:     short.Requested,
			Available:     short.Available,
			Reason:        string(short.Reason),
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrConcurrentReservation):
		Problem(w, http.StatusConflict, "Concurrent Reservation", err.Error())
	case errors.Is(err, shared.ErrLockTimeout):
		Problem(w, http.StatusServiceUnavailable, "Lock Timeout", err.Error())
	case errors.Is(err, shared.ErrAlreadyApplied), errors.Is(err, shared.ErrNotApplied),
		errors.Is(err, shared.ErrNotReversible), errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
