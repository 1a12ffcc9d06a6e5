package iorderrepo

import (
	"context"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
)

// Record pairs a persisted order with the sequence of the last event
// published for it, so warm starts can resume tenant streams past every
// sequence already handed out.
type Record struct {
	Order    order.Order
	Sequence uint64
}

// IOrderRepository defines the write-through persistence behind the order
// store. The store's memory stays authoritative; implementations only need
// durability, not coordination.
type IOrderRepository interface {
	// Save upserts one record.
	Save(ctx context.Context, rec Record) error

	// Get retrieves a record scoped to a tenant.
	Get(ctx context.Context, restaurantID, orderID string) (Record, error)

	// List retrieves a tenant's records with sequence greater than
	// sinceSequence, oldest first.
	List(ctx context.Context, restaurantID string, sinceSequence uint64) ([]Record, error)

	// All retrieves every record across tenants, used on warm start.
	All(ctx context.Context) ([]Record, error)
}
