package order

import (
	"database/sql/driver"
	"errors"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var ErrInvalidStatus = errors.New("invalid status")

// forward holds the single allowed forward step from each non-terminal state.
// Cancellation is handled separately: any non-terminal state may cancel.
var forward = map[Status]Status{
	StatusNew:       StatusPending,
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusCompleted,
}

func (s Status) String() string {
	return string(s)
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

// Terminal reports whether the status accepts no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return forward[s] == next
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case StatusNew.String():
		return StatusNew, nil
	case StatusPending.String():
		return StatusPending, nil
	case StatusConfirmed.String():
		return StatusConfirmed, nil
	case StatusPreparing.String():
		return StatusPreparing, nil
	case StatusReady.String():
		return StatusReady, nil
	case StatusCompleted.String():
		return StatusCompleted, nil
	case StatusCancelled.String():
		return StatusCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}
