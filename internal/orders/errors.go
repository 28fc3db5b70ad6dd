package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict is a store-side transaction abort (serialization failure, deadlock,
	// duplicate key). It is surfaced to the caller, never retried here.
	ErrConflict = errors.New("transaction conflict")
	// ErrEmptyCart is only returned when the manager rejects empty carts.
	ErrEmptyCart = fmt.Errorf("%w: cart is empty", ErrInvalidInput)
)

// StockError carries the details of a rejected reservation.
type StockError struct {
	ProductID string
	Name      string
	Required  int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (%s): required %d, available %d",
		e.ProductID, e.Name, e.Required, e.Available)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// KindOf classifies err for transports. Anything unrecognised is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidTransition):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}
