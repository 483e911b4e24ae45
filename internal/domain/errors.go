package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrBadRequest        = errors.New("bad request")
	ErrInvalidTransition = fmt.Errorf("%w: invalid order status transition", ErrConflict)
	ErrInvalidCode       = fmt.Errorf("%w: invalid payment code", ErrBadRequest)
	ErrOrderNotFound     = fmt.Errorf("order %w", ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("product %w", ErrNotFound)
	ErrVariantNotFound   = fmt.Errorf("variant %w", ErrNotFound)
	ErrPendingOrder      = fmt.Errorf("%w: customer already has an order awaiting payment", ErrConflict)
)

func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// StockInsufficientError aborts a checkout. The cart clamp that accompanies it
// has already been committed when the caller sees it.
type StockInsufficientError struct {
	Adjustments []StockAdjustment
}

func (e *StockInsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock for %d item(s)", len(e.Adjustments))
}

func (e *StockInsufficientError) Unwrap() error { return ErrConflict }
