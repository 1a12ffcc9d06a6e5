package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

func publishN(b *Bus, restaurantID string, n int) {
	for i := 0; i < n; i++ {
		b.Publish(orderevent.OrderEvent{
			RestaurantID: restaurantID,
			Kind:         orderevent.KindUpdated,
			Order:        order.Order{ID: "o1", RestaurantID: restaurantID, Status: order.StatusPreparing},
		})
	}
}

func drain(sub *Subscription) []orderevent.OrderEvent {
	var out []orderevent.OrderEvent
	for {
		evt, ok := sub.Pop()
		if !ok {
			return out
		}
		out = append(out, evt)
	}
}

func TestPublishAssignsGaplessSequences(t *testing.T) {
	b := New()

	for want := uint64(1); want <= 5; want++ {
		seq := b.Publish(orderevent.OrderEvent{RestaurantID: "rest_1", Kind: orderevent.KindCreated})
		assert.Equal(t, want, seq)
	}
	assert.Equal(t, uint64(5), b.CurrentSequence("rest_1"))
}

func TestSequencesAreIndependentPerTenant(t *testing.T) {
	b := New()

	publishN(b, "rest_1", 3)
	publishN(b, "rest_2", 1)

	assert.Equal(t, uint64(3), b.CurrentSequence("rest_1"))
	assert.Equal(t, uint64(1), b.CurrentSequence("rest_2"))
}

func TestSubscriberReceivesOwnTenantOnly(t *testing.T) {
	b := New()

	subA, _ := b.Subscribe("rest_a")
	subB, _ := b.Subscribe("rest_b")

	publishN(b, "rest_a", 3)
	publishN(b, "rest_b", 2)

	eventsA := drain(subA)
	require.Len(t, eventsA, 3)
	for _, evt := range eventsA {
		assert.Equal(t, "rest_a", evt.RestaurantID)
	}

	eventsB := drain(subB)
	require.Len(t, eventsB, 2)
	for _, evt := range eventsB {
		assert.Equal(t, "rest_b", evt.RestaurantID)
	}
}

func TestSubscribeReturnsCurrentTail(t *testing.T) {
	b := New()
	publishN(b, "rest_1", 4)

	sub, initial := b.Subscribe("rest_1")
	assert.Equal(t, uint64(4), initial)

	// only events after the tail reach the live queue
	publishN(b, "rest_1", 2)
	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(5), events[0].Sequence)
	assert.Equal(t, uint64(6), events[1].Sequence)
}

func TestDeliveryOrderIsNonDecreasing(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("rest_1")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publishN(b, "rest_1", 25)
		}()
	}
	wg.Wait()

	events := drain(sub)
	require.Len(t, events, 100)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
}

func TestReplayReturnsRequestedRange(t *testing.T) {
	b := New()
	publishN(b, "rest_1", 10)

	events, ok := b.Replay("rest_1", 4, 8)
	require.True(t, ok)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(5), events[0].Sequence)
	assert.Equal(t, uint64(8), events[3].Sequence)
}

func TestReplayEmptyWhenCaughtUp(t *testing.T) {
	b := New()
	publishN(b, "rest_1", 3)

	events, ok := b.Replay("rest_1", 3, 3)
	require.True(t, ok)
	assert.Empty(t, events)

	// acked beyond the tail clamps rather than fails
	events, ok = b.Replay("rest_1", 9, 9)
	require.True(t, ok)
	assert.Empty(t, events)
}

func TestReplayReportsWindowExceeded(t *testing.T) {
	b := New(WithReplayWindow(5))
	publishN(b, "rest_1", 20)

	_, ok := b.Replay("rest_1", 10, 20)
	assert.False(t, ok)

	events, ok := b.Replay("rest_1", 15, 20)
	require.True(t, ok)
	require.Len(t, events, 5)
	assert.Equal(t, uint64(16), events[0].Sequence)
	assert.Equal(t, uint64(20), events[4].Sequence)
}

func TestOverflowForceClosesSubscriber(t *testing.T) {
	b := New(WithQueueCapacity(2))
	sub, _ := b.Subscribe("rest_1")

	ready := order.Order{ID: "o1", RestaurantID: "rest_1", Status: order.StatusReady}
	for i := 0; i < 3; i++ {
		b.Publish(orderevent.OrderEvent{
			RestaurantID: "rest_1",
			Kind:         orderevent.KindStatusChanged,
			Order:        ready,
		})
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription should be force-closed after overflow")
	}
	assert.True(t, sub.Overflowed())
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, b.SubscriberCount("rest_1"))

	// the two queued critical events survive for a best-effort drain
	events := drain(sub)
	require.Len(t, events, 2)
}

func TestOverflowIsolatesSiblingSubscribers(t *testing.T) {
	b := New(WithQueueCapacity(2))
	slow, _ := b.Subscribe("rest_1")
	healthy, _ := b.Subscribe("rest_1")

	ready := order.Order{ID: "o1", RestaurantID: "rest_1", Status: order.StatusReady}
	for i := 0; i < 3; i++ {
		// keep the healthy subscriber drained like a live connection would
		drain(healthy)
		b.Publish(orderevent.OrderEvent{
			RestaurantID: "rest_1",
			Kind:         orderevent.KindStatusChanged,
			Order:        ready,
		})
	}

	assert.True(t, slow.Overflowed())
	assert.False(t, healthy.Overflowed())
	assert.Equal(t, 1, b.SubscriberCount("rest_1"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("rest_1")

	publishN(b, "rest_1", 1)
	sub.Close()
	publishN(b, "rest_1", 1)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, 0, b.SubscriberCount("rest_1"))

	// closing twice is fine
	sub.Close()
}

func TestRestoreSequenceOnlyAdvances(t *testing.T) {
	b := New()

	b.RestoreSequence("rest_1", 42)
	assert.Equal(t, uint64(42), b.CurrentSequence("rest_1"))

	b.RestoreSequence("rest_1", 7)
	assert.Equal(t, uint64(42), b.CurrentSequence("rest_1"))

	seq := b.Publish(orderevent.OrderEvent{RestaurantID: "rest_1", Kind: orderevent.KindCreated})
	assert.Equal(t, uint64(43), seq)
}

func TestOnPublishSeesAssignedSequence(t *testing.T) {
	b := New()

	var got []uint64
	b.OnPublish(func(evt orderevent.OrderEvent) {
		got = append(got, evt.Sequence)
	})

	publishN(b, "rest_1", 3)
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestSubscriptionAckIsMonotonic(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("rest_1")

	sub.Ack(10)
	sub.Ack(7)
	assert.Equal(t, uint64(10), sub.LastAcked())
	sub.Ack(12)
	assert.Equal(t, uint64(12), sub.LastAcked())
}
