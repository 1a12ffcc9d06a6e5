package bus

import (
	"errors"
	"sync"

	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

var (
	// ErrQueueOverflow is returned when a full queue holds only critical
	// events, so nothing may be evicted to make room.
	ErrQueueOverflow = errors.New("subscriber queue overflow")

	// ErrQueueClosed is returned for pushes after the queue closed.
	ErrQueueClosed = errors.New("subscriber queue closed")
)

// subQueue is the bounded outbound buffer of one subscriber.
//
// A push never blocks the publisher. When the queue is full, the oldest
// non-critical event is evicted to make room; critical events (status
// changes to ready or cancelled) are never evicted. A queue full of
// critical events rejects the push with ErrQueueOverflow and the bus
// force-closes the subscriber.
type subQueue struct {
	mu       sync.Mutex
	events   []orderevent.OrderEvent
	capacity int
	closed   bool
	dropped  uint64
	signal   chan struct{}
}

func newSubQueue(capacity int) *subQueue {
	return &subQueue{
		events:   make([]orderevent.OrderEvent, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// push appends evt, evicting the oldest droppable event when full.
func (q *subQueue) push(evt orderevent.OrderEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.events) >= q.capacity && !q.evictOldestDroppable() {
		return ErrQueueOverflow
	}
	q.events = append(q.events, evt)
	q.notify()
	return nil
}

// preload inserts already-sequenced history in front of whatever live events
// queued up since the subscription registered. The caller guarantees every
// preloaded sequence precedes every queued one, so FIFO order stays
// non-decreasing. When history plus backlog exceed capacity, the oldest
// droppable entries give way just like on push.
func (q *subQueue) preload(events []orderevent.OrderEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	merged := make([]orderevent.OrderEvent, 0, len(events)+len(q.events))
	merged = append(merged, events...)
	merged = append(merged, q.events...)
	q.events = merged
	for len(q.events) > q.capacity {
		if !q.evictOldestDroppable() {
			return ErrQueueOverflow
		}
	}
	if len(q.events) > 0 {
		q.notify()
	}
	return nil
}

// evictOldestDroppable removes the oldest non-critical event. Callers hold
// q.mu.
func (q *subQueue) evictOldestDroppable() bool {
	for i := range q.events {
		if q.events[i].Critical() {
			continue
		}
		copy(q.events[i:], q.events[i+1:])
		q.events[len(q.events)-1] = orderevent.OrderEvent{}
		q.events = q.events[:len(q.events)-1]
		q.dropped++
		return true
	}
	return false
}

// pop removes and returns the front event without blocking.
func (q *subQueue) pop() (orderevent.OrderEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return orderevent.OrderEvent{}, false
	}
	evt := q.events[0]
	q.events[0] = orderevent.OrderEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return evt, true
}

// wait returns a channel that signals when events may be available. The
// signal is coalesced; consumers drain with pop until it returns false.
func (q *subQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *subQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *subQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *subQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// close marks the queue closed and wakes any waiting consumer. Events still
// queued remain poppable so a consumer may drain before exiting.
func (q *subQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *subQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
