package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

const (
	defaultQueueCapacity = 256
	defaultReplayWindow  = 512
)

// PublishHook observes every event after fan-out, sequence already assigned.
// Hooks run on the publisher's goroutine and must not block.
type PublishHook func(evt orderevent.OrderEvent)

// Bus is the in-process fan-out fabric between the order store and gateway
// connections. Events are partitioned by restaurant: each tenant owns an
// independent sequence, replay window and subscriber set, so one noisy
// restaurant never touches another's delivery.
type Bus struct {
	mu      sync.RWMutex
	streams map[string]*stream
	hooks   []PublishHook

	queueCapacity int
	replayWindow  int
	nextSubID     uint64
}

type Option func(*Bus)

// WithQueueCapacity bounds each subscriber's outbound queue.
func WithQueueCapacity(capacity int) Option {
	return func(b *Bus) {
		if capacity > 0 {
			b.queueCapacity = capacity
		}
	}
}

// WithReplayWindow bounds how many events per tenant stay available for
// reconnect replay.
func WithReplayWindow(window int) Option {
	return func(b *Bus) {
		if window > 0 {
			b.replayWindow = window
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		streams:       make(map[string]*stream),
		queueCapacity: defaultQueueCapacity,
		replayWindow:  defaultReplayWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnPublish registers a tap that sees every published event. Register taps
// during wiring, before traffic starts.
func (b *Bus) OnPublish(hook PublishHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// Publish assigns the next tenant sequence to evt, retains it for replay and
// fans it out to every subscriber of evt's restaurant. Subscribers whose
// queue rejects the event are force-closed so their connection reconnects
// and resyncs. Returns the assigned sequence.
func (b *Bus) Publish(evt orderevent.OrderEvent) uint64 {
	st := b.stream(evt.RestaurantID)

	st.mu.Lock()
	st.seq++
	evt.Sequence = st.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	st.retain(evt)
	var overflowed []*Subscription
	for _, sub := range st.subs {
		if err := sub.queue.push(evt); err != nil {
			overflowed = append(overflowed, sub)
		}
	}
	for _, sub := range overflowed {
		delete(st.subs, sub.id)
	}
	st.mu.Unlock()

	for _, sub := range overflowed {
		slog.Warn("Subscriber queue overflowed, closing subscription",
			"restaurant_id", evt.RestaurantID,
			"subscription_id", sub.id,
			"sequence", evt.Sequence,
		)
		sub.markOverflowed()
		sub.shutdown()
	}

	b.mu.RLock()
	hooks := b.hooks
	b.mu.RUnlock()
	for _, hook := range hooks {
		hook(evt)
	}
	return evt.Sequence
}

// Subscribe registers a subscriber at the current tail of the tenant stream
// and returns the handle plus the sequence the live queue starts after.
// Events published from this point on are queued; anything at or before the
// returned sequence is history and travels through Replay.
func (b *Bus) Subscribe(restaurantID string) (*Subscription, uint64) {
	st := b.stream(restaurantID)

	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.mu.Unlock()

	sub := &Subscription{
		id:           id,
		restaurantID: restaurantID,
		bus:          b,
		queue:        newSubQueue(b.queueCapacity),
		done:         make(chan struct{}),
	}

	st.mu.Lock()
	st.subs[sub.id] = sub
	initial := st.seq
	st.mu.Unlock()

	return sub, initial
}

// Replay returns the retained events with sequence in (since, through]. The
// second result is false when the window no longer reaches back to since, in
// which case the caller needs a full snapshot instead.
func (b *Bus) Replay(restaurantID string, since, through uint64) ([]orderevent.OrderEvent, bool) {
	st := b.stream(restaurantID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if through > st.seq {
		through = st.seq
	}
	if since >= through {
		return nil, true
	}
	oldest := st.oldestRetained()
	if since+1 < oldest {
		return nil, false
	}
	events := make([]orderevent.OrderEvent, 0, through-since)
	for seq := since + 1; seq <= through; seq++ {
		events = append(events, st.eventAt(seq))
	}
	return events, true
}

// CurrentSequence returns the tenant's latest assigned sequence.
func (b *Bus) CurrentSequence(restaurantID string) uint64 {
	st := b.stream(restaurantID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seq
}

// RestoreSequence advances a tenant's sequence counter, used on warm start
// so new events continue after the last persisted sequence.
func (b *Bus) RestoreSequence(restaurantID string, seq uint64) {
	st := b.stream(restaurantID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if seq > st.seq {
		st.seq = seq
	}
}

func (b *Bus) stream(restaurantID string) *stream {
	b.mu.RLock()
	st, ok := b.streams[restaurantID]
	b.mu.RUnlock()
	if ok {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.streams[restaurantID]; ok {
		return st
	}
	st = &stream{
		subs:   make(map[uint64]*Subscription),
		window: b.replayWindow,
	}
	b.streams[restaurantID] = st
	return st
}

func (b *Bus) unsubscribe(sub *Subscription) {
	st := b.stream(sub.restaurantID)
	st.mu.Lock()
	delete(st.subs, sub.id)
	st.mu.Unlock()
}

// SubscriberCount reports the live subscriptions of a tenant.
func (b *Bus) SubscriberCount(restaurantID string) int {
	st := b.stream(restaurantID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// stream holds one tenant's sequence counter, replay ring and subscribers.
type stream struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[uint64]*Subscription
	window int

	// ring retains the newest window events; head indexes the oldest slot
	// once the ring has wrapped.
	ring []orderevent.OrderEvent
	head int
}

// retain stores evt in the replay ring. Callers hold st.mu.
func (st *stream) retain(evt orderevent.OrderEvent) {
	if len(st.ring) < st.window {
		st.ring = append(st.ring, evt)
		return
	}
	st.ring[st.head] = evt
	st.head = (st.head + 1) % st.window
}

// oldestRetained returns the lowest sequence still in the ring, or seq+1
// when nothing is retained. Callers hold st.mu.
func (st *stream) oldestRetained() uint64 {
	return st.seq - uint64(len(st.ring)) + 1
}

// eventAt returns the retained event with the given sequence. Callers hold
// st.mu and must have bounds-checked seq against oldestRetained.
func (st *stream) eventAt(seq uint64) orderevent.OrderEvent {
	offset := int(seq - st.oldestRetained())
	if len(st.ring) < st.window {
		return st.ring[offset]
	}
	return st.ring[(st.head+offset)%st.window]
}
