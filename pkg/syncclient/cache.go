package syncclient

import (
	"sort"
	"sync"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

// Cache holds a display's local view of the order board. Confirmed state
// mirrors the server; staged entries sit on top as optimistic edits that
// are cleared once the server confirms or the caller reverts them.
type Cache struct {
	mu      sync.RWMutex
	orders  map[string]order.Order
	staged  map[string]order.Order
	lastSeq uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		orders: map[string]order.Order{},
		staged: map[string]order.Order{},
	}
}

// ApplyEvent folds a stream event into the confirmed view and reports
// whether it changed anything. Events carrying a version at or below the
// known one are duplicates from replay and leave the state untouched,
// though the sequence cursor still advances so they get acknowledged.
func (c *Cache) ApplyEvent(evt orderevent.OrderEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evt.Sequence > c.lastSeq {
		c.lastSeq = evt.Sequence
	}

	known, ok := c.orders[evt.Order.ID]
	if ok && known.Version >= evt.Order.Version {
		return false
	}
	c.orders[evt.Order.ID] = evt.Order.Clone()

	if staged, ok := c.staged[evt.Order.ID]; ok && evt.Order.Version >= staged.Version {
		delete(c.staged, evt.Order.ID)
	}
	return true
}

// ApplySnapshot replaces the confirmed view with a server snapshot taken
// at the given sequence. A local order already ahead of its snapshot copy
// is kept, since the snapshot sequence is read before the orders are
// collected and a live event can land in between. Orders absent from the
// snapshot no longer exist server side and are dropped.
func (c *Cache) ApplySnapshot(orders []order.Order, sequence uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]order.Order, len(orders))
	for _, o := range orders {
		if known, ok := c.orders[o.ID]; ok && known.Version > o.Version {
			next[o.ID] = known
			continue
		}
		next[o.ID] = o.Clone()
	}
	c.orders = next

	if sequence > c.lastSeq {
		c.lastSeq = sequence
	}

	for id, staged := range c.staged {
		confirmed, ok := next[id]
		if !ok || confirmed.Version >= staged.Version {
			delete(c.staged, id)
		}
	}
}

// Stage overlays an optimistic local edit, shown by reads until the
// server confirms it through the stream or the caller reverts it.
func (c *Cache) Stage(o order.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged[o.ID] = o.Clone()
}

// Resolve folds the server's reply to an optimistic mutation into the
// confirmed view and clears the staged copy it confirms. Works the same
// whether the confirmation arrives here or through the event stream first.
func (c *Cache) Resolve(o order.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if known, ok := c.orders[o.ID]; !ok || o.Version > known.Version {
		c.orders[o.ID] = o.Clone()
	}
	if staged, ok := c.staged[o.ID]; ok && o.Version >= staged.Version {
		delete(c.staged, o.ID)
	}
}

// Revert discards a staged edit, restoring the confirmed view. Displays
// call this when the server rejects the mutation with a conflict.
func (c *Cache) Revert(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.staged, orderID)
}

// Get returns one order as the display should render it, preferring a
// staged edit over the confirmed copy.
func (c *Cache) Get(orderID string) (order.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if o, ok := c.staged[orderID]; ok {
		return o.Clone(), true
	}
	o, ok := c.orders[orderID]
	if !ok {
		return order.Order{}, false
	}
	return o.Clone(), true
}

// Orders returns the full board with staged edits applied, sorted by
// creation time so ticket rails render in a stable order.
func (c *Cache) Orders() []order.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]order.Order, 0, len(c.orders))
	for id, o := range c.orders {
		if staged, ok := c.staged[id]; ok {
			out = append(out, staged.Clone())
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LastSequence returns the highest stream sequence folded into the cache,
// the cursor reconnects resume from.
func (c *Cache) LastSequence() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// Len returns the number of confirmed orders.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}
