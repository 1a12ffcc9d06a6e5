package bus

import (
	"sync"
	"sync/atomic"

	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

// Subscription is one subscriber's handle onto a tenant stream. The owning
// connection pops events from it; the bus pushes into it. Slow consumption
// affects only this handle, never the publisher or sibling subscribers.
type Subscription struct {
	id           uint64
	restaurantID string
	bus          *Bus
	queue        *subQueue

	lastAcked  atomic.Uint64
	overflowed atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
}

// ID returns the bus-unique subscription id.
func (s *Subscription) ID() uint64 {
	return s.id
}

// RestaurantID returns the tenant this subscription is scoped to.
func (s *Subscription) RestaurantID() string {
	return s.restaurantID
}

// Pop removes the next queued event without blocking.
func (s *Subscription) Pop() (orderevent.OrderEvent, bool) {
	return s.queue.pop()
}

// Wait returns the queue's availability signal. It fires when events arrive
// and permanently once the subscription closes; drain with Pop after every
// wake-up.
func (s *Subscription) Wait() <-chan struct{} {
	return s.queue.wait()
}

// Preload inserts replayed history ahead of the queued live events. Only
// valid before any event has been popped; the gateway calls it while
// delivery is still gated.
func (s *Subscription) Preload(events []orderevent.OrderEvent) error {
	return s.queue.preload(events)
}

// Ack records the highest sequence the consumer confirmed applying.
func (s *Subscription) Ack(seq uint64) {
	for {
		cur := s.lastAcked.Load()
		if seq <= cur || s.lastAcked.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// LastAcked returns the highest acknowledged sequence.
func (s *Subscription) LastAcked() uint64 {
	return s.lastAcked.Load()
}

// Closed reports whether the subscription no longer accepts events. Queued
// events remain poppable.
func (s *Subscription) Closed() bool {
	return s.queue.isClosed()
}

// Overflowed reports whether the bus force-closed this subscription because
// its queue could not absorb another critical event.
func (s *Subscription) Overflowed() bool {
	return s.overflowed.Load()
}

// Done returns a channel closed when the subscription shuts down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many events backpressure evicted from this queue.
func (s *Subscription) Dropped() uint64 {
	return s.queue.droppedCount()
}

// Close detaches the subscription from the bus and wakes the consumer. Safe
// to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.shutdown()
}

func (s *Subscription) markOverflowed() {
	s.overflowed.Store(true)
}

// shutdown closes the queue without touching the bus registry; Publish
// already removed force-closed subscriptions under the stream lock.
func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.queue.close()
		close(s.done)
	})
}
