package order

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an order id does not exist within the
	// requesting tenant.
	ErrNotFound = errors.New("order not found")

	// ErrTerminalOrder is returned for item mutations on completed or
	// cancelled orders.
	ErrTerminalOrder = errors.New("order is in a terminal state")
)

// ConflictError reports a mutation that carried a stale version. Nothing was
// applied; the caller must refetch and retry against the current version.
type ConflictError struct {
	OrderID         string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on order %s: expected version %d, current is %d",
		e.OrderID, e.ExpectedVersion, e.CurrentVersion)
}

// IsConflict reports whether err is a stale-version conflict.
func IsConflict(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

// InvalidTransitionError reports a status change the lifecycle does not
// permit. The request is not retryable; the order is unchanged.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s -> %s", e.OrderID, e.From, e.To)
}

// IsInvalidTransition reports whether err is a rejected status transition.
func IsInvalidTransition(err error) bool {
	var transitionErr *InvalidTransitionError
	return errors.As(err, &transitionErr)
}
