package services

import (
	"errors"
	"fmt"
)

// Business-rule failures. They abort the unit of work cleanly and are never
// retried.
var (
	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidInput        = errors.New("invalid input")
)

// InsufficientCreditsError reports the balance seen inside the unit of work
// and the price that was required. It matches ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Shortfall is how many credits are missing.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Balance
}

// outcome is the metrics label for an operation result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

func isBusinessError(err error) bool {
	o := outcome(err)
	return o != "ok" && o != "error"
}
