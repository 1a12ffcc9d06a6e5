package orderevent

import (
	"errors"
	"time"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
)

// Kind represents the type of mutation an event describes.
type Kind string

const (
	KindCreated       Kind = "created"
	KindUpdated       Kind = "updated"
	KindStatusChanged Kind = "status_changed"
)

var ErrInvalidKind = errors.New("invalid event kind")

func (k Kind) String() string {
	return string(k)
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case KindCreated.String():
		return KindCreated, nil
	case KindUpdated.String():
		return KindUpdated, nil
	case KindStatusChanged.String():
		return KindStatusChanged, nil
	default:
		return "", ErrInvalidKind
	}
}

// OrderEvent represents one immutable entry in a tenant's event stream. The
// payload carries the full post-mutation order, so applying events out of
// order or more than once reduces to a version comparison on the consumer.
type OrderEvent struct {
	RestaurantID string      `json:"restaurantId"`
	Sequence     uint64      `json:"sequence"`
	Kind         Kind        `json:"kind"`
	Order        order.Order `json:"order"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Critical reports whether backpressure may never drop this event: status
// changes that land an order in ready or cancelled drive the kitchen handoff
// and must survive any queue squeeze.
func (e OrderEvent) Critical() bool {
	return e.Kind == KindStatusChanged &&
		(e.Order.Status == order.StatusReady || e.Order.Status == order.StatusCancelled)
}
