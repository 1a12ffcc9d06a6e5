package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

func testEvent(seq uint64) orderevent.OrderEvent {
	return orderevent.OrderEvent{
		RestaurantID: "rest_1",
		Sequence:     seq,
		Kind:         orderevent.KindUpdated,
		Order:        order.Order{ID: "o1", Status: order.StatusPreparing},
	}
}

func criticalEvent(seq uint64) orderevent.OrderEvent {
	return orderevent.OrderEvent{
		RestaurantID: "rest_1",
		Sequence:     seq,
		Kind:         orderevent.KindStatusChanged,
		Order:        order.Order{ID: "o1", Status: order.StatusReady},
	}
}

func TestSubQueueFIFO(t *testing.T) {
	q := newSubQueue(8)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, q.push(testEvent(seq)))
	}

	for want := uint64(1); want <= 3; want++ {
		evt, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, want, evt.Sequence)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestSubQueueDropsOldestNonCritical(t *testing.T) {
	q := newSubQueue(3)

	require.NoError(t, q.push(testEvent(1)))
	require.NoError(t, q.push(criticalEvent(2)))
	require.NoError(t, q.push(testEvent(3)))
	// full: event 1 is the oldest droppable
	require.NoError(t, q.push(testEvent(4)))

	assert.Equal(t, uint64(1), q.droppedCount())

	var got []uint64
	for {
		evt, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, evt.Sequence)
	}
	assert.Equal(t, []uint64{2, 3, 4}, got)
}

func TestSubQueueNeverDropsCritical(t *testing.T) {
	q := newSubQueue(2)

	require.NoError(t, q.push(criticalEvent(1)))
	require.NoError(t, q.push(testEvent(2)))
	// the non-critical event 2 must be evicted even though 1 is older
	require.NoError(t, q.push(criticalEvent(3)))

	evt, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), evt.Sequence)
	evt, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(3), evt.Sequence)
}

func TestSubQueueOverflowWhenAllCritical(t *testing.T) {
	q := newSubQueue(2)

	require.NoError(t, q.push(criticalEvent(1)))
	require.NoError(t, q.push(criticalEvent(2)))

	err := q.push(criticalEvent(3))
	assert.ErrorIs(t, err, ErrQueueOverflow)
	// queued critical events survive the failed push
	assert.Equal(t, 2, q.len())
	assert.Equal(t, uint64(0), q.droppedCount())
}

func TestSubQueuePreloadKeepsOrder(t *testing.T) {
	q := newSubQueue(8)

	// live events arrive before the replay batch is ready
	require.NoError(t, q.push(testEvent(5)))
	require.NoError(t, q.push(testEvent(6)))
	require.NoError(t, q.preload([]orderevent.OrderEvent{testEvent(3), testEvent(4)}))

	var got []uint64
	for {
		evt, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, evt.Sequence)
	}
	assert.Equal(t, []uint64{3, 4, 5, 6}, got)
}

func TestSubQueuePreloadEvictsOldestWhenOver(t *testing.T) {
	q := newSubQueue(3)

	require.NoError(t, q.push(testEvent(5)))
	require.NoError(t, q.preload([]orderevent.OrderEvent{testEvent(2), testEvent(3), testEvent(4)}))

	var got []uint64
	for {
		evt, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, evt.Sequence)
	}
	// oldest replayed event gives way; the client's snapshot already covers it
	assert.Equal(t, []uint64{3, 4, 5}, got)
}

func TestSubQueueClose(t *testing.T) {
	q := newSubQueue(4)
	require.NoError(t, q.push(testEvent(1)))

	q.close()

	assert.ErrorIs(t, q.push(testEvent(2)), ErrQueueClosed)
	assert.True(t, q.isClosed())

	// close wakes waiters permanently
	select {
	case <-q.wait():
	default:
		t.Fatal("wait channel should be closed")
	}

	// queued events drain after close
	evt, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), evt.Sequence)
}

func TestSubQueueSignalCoalesces(t *testing.T) {
	q := newSubQueue(8)
	require.NoError(t, q.push(testEvent(1)))
	require.NoError(t, q.push(testEvent(2)))

	<-q.wait()
	select {
	case <-q.wait():
		t.Fatal("signal should be coalesced into a single wake-up")
	default:
	}

	// both events are drained off one wake-up
	_, ok := q.pop()
	require.True(t, ok)
	_, ok = q.pop()
	require.True(t, ok)
}
