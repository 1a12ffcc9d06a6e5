package ordersvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeyoung304/expo-sync/internal/dal/interfaces/iorderrepo"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

// ErrStaleMutation is returned by Ingest when the reported order is not
// newer than the copy already in memory.
var ErrStaleMutation = errors.New("mutation is stale")

// eventSink is the slice of the event bus the store depends on.
type eventSink interface {
	Publish(evt orderevent.OrderEvent) uint64
	CurrentSequence(restaurantID string) uint64
	RestoreSequence(restaurantID string, seq uint64)
}

// OrderService is the authoritative, versioned order store. Every mutation
// is a compare-and-swap on the order's version: under concurrent writers
// exactly one wins and everyone else gets *order.ConflictError. An accepted
// mutation publishes exactly one event to the bus before returning, then
// writes through to the repository.
type OrderService struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*entry

	repo iorderrepo.IOrderRepository
	sink eventSink
}

type entry struct {
	order order.Order
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService and panics when a required
// collaborator is missing.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{tenants: make(map[string]map[string]*entry)}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		panic("ordersvc: event sink is required")
	}
	if s.repo == nil {
		panic("ordersvc: order repository is required")
	}

	return s
}

// WithRepository sets the write-through repository for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithRepository(repo iorderrepo.IOrderRepository) option {
	return func(s *OrderService) {
		s.repo = repo
	}
}

// WithEventSink sets the event bus for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventSink(sink eventSink) option {
	return func(s *OrderService) {
		s.sink = sink
	}
}

// Create stores a new order at version 1 in status new and publishes the
// created event.
func (s *OrderService) Create(ctx context.Context, draft order.Draft) (order.Order, error) {
	if err := draft.Validate(); err != nil {
		return order.Order{}, fmt.Errorf("%w: %v", order.ErrInvalidDraft, err)
	}

	now := time.Now().UTC()
	o := order.Order{
		ID:           uuid.NewString(),
		RestaurantID: draft.RestaurantID,
		Status:       order.StatusNew,
		Items:        order.CloneItems(draft.Items),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.tenant(o.RestaurantID)[o.ID] = &entry{order: o}
	s.mu.Unlock()

	s.publish(ctx, orderevent.KindCreated, o)
	return o.Clone(), nil
}

// Transition moves an order to the next lifecycle status iff expectedVersion
// still matches and the step is permitted.
func (s *OrderService) Transition(
	ctx context.Context,
	restaurantID, orderID string,
	expectedVersion int64,
	next order.Status,
) (order.Order, error) {
	s.mu.Lock()
	e, ok := s.lookup(restaurantID, orderID)
	if !ok {
		s.mu.Unlock()
		return order.Order{}, order.ErrNotFound
	}
	cur := e.order
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return order.Order{}, &order.ConflictError{
			OrderID:         orderID,
			ExpectedVersion: expectedVersion,
			CurrentVersion:  cur.Version,
		}
	}
	if !cur.Status.CanTransitionTo(next) {
		s.mu.Unlock()
		return order.Order{}, &order.InvalidTransitionError{OrderID: orderID, From: cur.Status, To: next}
	}
	updated := cur.Clone()
	updated.Status = next
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	e.order = updated
	s.mu.Unlock()

	s.publish(ctx, orderevent.KindStatusChanged, updated)
	return updated.Clone(), nil
}

// ApplyItemDelta applies an atomic list of item changes iff expectedVersion
// still matches and the order is not terminal.
func (s *OrderService) ApplyItemDelta(
	ctx context.Context,
	restaurantID, orderID string,
	expectedVersion int64,
	delta order.ItemDelta,
) (order.Order, error) {
	s.mu.Lock()
	e, ok := s.lookup(restaurantID, orderID)
	if !ok {
		s.mu.Unlock()
		return order.Order{}, order.ErrNotFound
	}
	cur := e.order
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return order.Order{}, &order.ConflictError{
			OrderID:         orderID,
			ExpectedVersion: expectedVersion,
			CurrentVersion:  cur.Version,
		}
	}
	if cur.Status.Terminal() {
		s.mu.Unlock()
		return order.Order{}, fmt.Errorf("%w: %s", order.ErrTerminalOrder, cur.Status)
	}
	items, err := delta.Apply(cur.Items)
	if err != nil {
		s.mu.Unlock()
		return order.Order{}, err
	}
	updated := cur.Clone()
	updated.Items = items
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	e.order = updated
	s.mu.Unlock()

	s.publish(ctx, orderevent.KindUpdated, updated)
	return updated.Clone(), nil
}

// Get retrieves one order scoped to a tenant.
func (s *OrderService) Get(ctx context.Context, restaurantID, orderID string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lookup(restaurantID, orderID)
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return e.order.Clone(), nil
}

// Snapshot returns every order of the tenant plus the stream sequence the
// view is consistent with. The sequence is read before the orders, so it
// never runs ahead of the state included; any overlap with replayed events
// collapses on the consumer via version comparison.
func (s *OrderService) Snapshot(ctx context.Context, restaurantID string) ([]order.Order, uint64, error) {
	seq := s.sink.CurrentSequence(restaurantID)

	s.mu.RLock()
	tenant := s.tenants[restaurantID]
	orders := make([]order.Order, 0, len(tenant))
	for _, e := range tenant {
		orders = append(orders, e.order.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, seq, nil
}

// CurrentSequence returns the last stream sequence assigned for a tenant.
func (s *OrderService) CurrentSequence(restaurantID string) uint64 {
	return s.sink.CurrentSequence(restaurantID)
}

// ListSince returns tenant orders whose last published sequence is greater
// than sinceSequence, straight from the repository.
func (s *OrderService) ListSince(ctx context.Context, restaurantID string, sinceSequence uint64) ([]order.Order, error) {
	records, err := s.repo.List(ctx, restaurantID, sinceSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders := make([]order.Order, 0, len(records))
	for _, rec := range records {
		orders = append(orders, rec.Order)
	}
	return orders, nil
}

// Ingest lets an external persistence layer report a mutation it already
// applied, so connected displays hear about writes that bypassed this
// process. The order is accepted when it is unknown or strictly newer than
// the copy in memory, then published like any local mutation.
func (s *OrderService) Ingest(ctx context.Context, kind orderevent.Kind, o order.Order) (uint64, error) {
	if _, err := orderevent.ParseKind(kind.String()); err != nil {
		return 0, err
	}
	if o.ID == "" || o.RestaurantID == "" {
		return 0, errors.New("ingest requires order id and restaurant id")
	}

	s.mu.Lock()
	e, ok := s.lookup(o.RestaurantID, o.ID)
	if ok && e.order.Version >= o.Version {
		known := e.order.Version
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: version %d, already at %d", ErrStaleMutation, o.Version, known)
	}
	stored := o.Clone()
	if ok {
		e.order = stored
	} else {
		s.tenant(o.RestaurantID)[o.ID] = &entry{order: stored}
	}
	s.mu.Unlock()

	return s.publish(ctx, kind, stored), nil
}

// Restore loads persisted records into memory and fast-forwards tenant
// sequences so new events continue after everything already handed out.
func (s *OrderService) Restore(ctx context.Context) error {
	records, err := s.repo.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load orders: %w", err)
	}

	maxSeq := make(map[string]uint64)
	s.mu.Lock()
	for _, rec := range records {
		o := rec.Order.Clone()
		s.tenant(o.RestaurantID)[o.ID] = &entry{order: o}
		if rec.Sequence > maxSeq[o.RestaurantID] {
			maxSeq[o.RestaurantID] = rec.Sequence
		}
	}
	s.mu.Unlock()
	for restaurantID, seq := range maxSeq {
		s.sink.RestoreSequence(restaurantID, seq)
	}

	if len(records) > 0 {
		slog.Info("Restored orders from repository",
			"orders", len(records),
			"restaurants", len(maxSeq),
		)
	}
	return nil
}

// publish hands the event to the bus, then writes the accepted state
// through to the repository with the assigned sequence. Memory stays
// authoritative: a failed save is logged, not surfaced, and heals on the
// next save of the same order.
func (s *OrderService) publish(ctx context.Context, kind orderevent.Kind, o order.Order) uint64 {
	seq := s.sink.Publish(orderevent.OrderEvent{
		RestaurantID: o.RestaurantID,
		Kind:         kind,
		Order:        o.Clone(),
		Timestamp:    o.UpdatedAt,
	})
	if err := s.repo.Save(ctx, iorderrepo.Record{Order: o.Clone(), Sequence: seq}); err != nil {
		slog.Error("Failed to persist order",
			"order_id", o.ID,
			"restaurant_id", o.RestaurantID,
			"sequence", seq,
			"error", err,
		)
	}
	return seq
}

// tenant returns the order map of a restaurant. Callers hold s.mu.
func (s *OrderService) tenant(restaurantID string) map[string]*entry {
	t, ok := s.tenants[restaurantID]
	if !ok {
		t = make(map[string]*entry)
		s.tenants[restaurantID] = t
	}
	return t
}

// lookup finds an entry scoped to a tenant. Callers hold s.mu.
func (s *OrderService) lookup(restaurantID, orderID string) (*entry, bool) {
	e, ok := s.tenants[restaurantID][orderID]
	return e, ok
}
