package ordersvc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyoung304/expo-sync/internal/bus"
	"github.com/mikeyoung304/expo-sync/internal/dal/repositories/order/memory"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

func newTestService(t *testing.T) (*OrderService, *bus.Bus) {
	t.Helper()
	b := bus.New()
	svc := MustNewOrderService(
		WithRepository(memory.NewRepository()),
		WithEventSink(b),
	)
	return svc, b
}

func testDraft() order.Draft {
	return order.Draft{
		RestaurantID: "rest_1",
		Items: []order.LineItem{
			{Name: "Burger", Quantity: 1, UnitPriceCents: 1250, Modifiers: []string{"no onions"}},
		},
	}
}

func TestCreate(t *testing.T) {
	svc, b := newTestService(t)
	sub, _ := b.Subscribe("rest_1")

	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, order.StatusNew, created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "rest_1", created.RestaurantID)

	// the event is already in the stream when Create returns
	evt, ok := sub.Pop()
	require.True(t, ok)
	assert.Equal(t, orderevent.KindCreated, evt.Kind)
	assert.Equal(t, uint64(1), evt.Sequence)
	assert.Equal(t, created.ID, evt.Order.ID)
}

func TestCreateRejectsBadDraft(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []order.Draft{
		{},
		{RestaurantID: "rest_1"},
		{RestaurantID: "rest_1", Items: []order.LineItem{{Name: "", Quantity: 1}}},
		{RestaurantID: "rest_1", Items: []order.LineItem{{Name: "Burger", Quantity: 0}}},
	}
	for _, draft := range cases {
		_, err := svc.Create(context.Background(), draft)
		assert.ErrorIs(t, err, order.ErrInvalidDraft)
	}
}

func TestTransition(t *testing.T) {
	svc, b := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	sub, _ := b.Subscribe("rest_1")

	updated, err := svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	evt, ok := sub.Pop()
	require.True(t, ok)
	assert.Equal(t, orderevent.KindStatusChanged, evt.Kind)
	assert.Equal(t, order.StatusPending, evt.Order.Status)
}

func TestTransitionStaleVersion(t *testing.T) {
	svc, b := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
	require.NoError(t, err)
	sub, _ := b.Subscribe("rest_1")

	_, err = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusConfirmed)
	require.Error(t, err)
	assert.True(t, order.IsConflict(err))

	var conflictErr *order.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, int64(1), conflictErr.ExpectedVersion)
	assert.Equal(t, int64(2), conflictErr.CurrentVersion)

	// the losing write produced no event and no state change
	_, ok := sub.Pop()
	assert.False(t, ok)
	got, err := svc.Get(context.Background(), "rest_1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestTransitionInvalidStep(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusReady)
	require.Error(t, err)
	assert.True(t, order.IsInvalidTransition(err))

	var transitionErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, order.StatusNew, transitionErr.From)
	assert.Equal(t, order.StatusReady, transitionErr.To)
}

func TestTransitionOnTerminalOrder(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	cancelled, err := svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusCancelled)
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), "rest_1", created.ID, cancelled.Version, order.StatusPending)
	assert.True(t, order.IsInvalidTransition(err))
}

func TestTransitionUnknownOrder(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Transition(context.Background(), "rest_1", "missing", 1, order.StatusPending)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestApplyItemDelta(t *testing.T) {
	svc, b := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	sub, _ := b.Subscribe("rest_1")

	delta := order.ItemDelta{Changes: []order.ItemChange{
		{Op: order.ItemOpAdd, Item: &order.LineItem{Name: "Fries", Quantity: 2, UnitPriceCents: 450}},
	}}
	updated, err := svc.ApplyItemDelta(context.Background(), "rest_1", created.ID, 1, delta)
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	assert.Equal(t, int64(2), updated.Version)

	evt, ok := sub.Pop()
	require.True(t, ok)
	assert.Equal(t, orderevent.KindUpdated, evt.Kind)
	require.Len(t, evt.Order.Items, 2)
}

func TestApplyItemDeltaStaleVersion(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
	require.NoError(t, err)

	delta := order.ItemDelta{Changes: []order.ItemChange{{Op: order.ItemOpRemove, Name: "Burger"}}}
	_, err = svc.ApplyItemDelta(context.Background(), "rest_1", created.ID, 1, delta)
	assert.True(t, order.IsConflict(err))
}

func TestApplyItemDeltaOnTerminalOrder(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	cancelled, err := svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusCancelled)
	require.NoError(t, err)

	delta := order.ItemDelta{Changes: []order.ItemChange{{Op: order.ItemOpRemove, Name: "Burger"}}}
	_, err = svc.ApplyItemDelta(context.Background(), "rest_1", created.ID, cancelled.Version, delta)
	assert.ErrorIs(t, err, order.ErrTerminalOrder)
}

func TestConcurrentTransitionsExactlyOneWinner(t *testing.T) {
	svc, b := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	sub, _ := b.Subscribe("rest_1")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case order.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	// exactly one event came out of the pile-up
	evt, ok := sub.Pop()
	require.True(t, ok)
	assert.Equal(t, orderevent.KindStatusChanged, evt.Kind)
	_, ok = sub.Pop()
	assert.False(t, ok)

	got, err := svc.Get(context.Background(), "rest_1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestConcurrentMixedMutationsExactlyOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var transitionErr, deltaErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, transitionErr = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
	}()
	go func() {
		defer wg.Done()
		delta := order.ItemDelta{Changes: []order.ItemChange{{Op: order.ItemOpSetQuantity, Name: "Burger", Quantity: 3}}}
		_, deltaErr = svc.ApplyItemDelta(context.Background(), "rest_1", created.ID, 1, delta)
	}()
	wg.Wait()

	winners := 0
	for _, err := range []error{transitionErr, deltaErr} {
		if err == nil {
			winners++
		} else {
			assert.True(t, order.IsConflict(err))
		}
	}
	assert.Equal(t, 1, winners)

	got, err := svc.Get(context.Background(), "rest_1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestGetIsTenantScoped(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "rest_2", created.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)

	_, err = svc.Transition(context.Background(), "rest_2", created.ID, 1, order.StatusPending)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestSnapshot(t *testing.T) {
	svc, b := newTestService(t)
	first, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), "rest_1", first.ID, 1, order.StatusPending)
	require.NoError(t, err)

	orders, seq, err := svc.Snapshot(context.Background(), "rest_1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, b.CurrentSequence("rest_1"), seq)

	// snapshots are isolated per tenant
	orders, seq, err = svc.Snapshot(context.Background(), "rest_2")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, uint64(0), seq)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)

	orders, _, err := svc.Snapshot(context.Background(), "rest_1")
	require.NoError(t, err)
	orders[0].Items[0].Name = "Tampered"
	orders[0].Items[0].Modifiers[0] = "extra onions"

	got, err := svc.Get(context.Background(), "rest_1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Burger", got.Items[0].Name)
	assert.Equal(t, "no onions", got.Items[0].Modifiers[0])
}

func TestIngest(t *testing.T) {
	svc, b := newTestService(t)
	sub, _ := b.Subscribe("rest_1")

	external := order.Order{
		ID:           "ext-1",
		RestaurantID: "rest_1",
		Status:       order.StatusConfirmed,
		Items:        []order.LineItem{{Name: "Salad", Quantity: 1, UnitPriceCents: 900}},
		Version:      4,
	}
	seq, err := svc.Ingest(context.Background(), orderevent.KindUpdated, external)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	evt, ok := sub.Pop()
	require.True(t, ok)
	assert.Equal(t, "ext-1", evt.Order.ID)

	got, err := svc.Get(context.Background(), "rest_1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)

	// replaying the same state is rejected as stale and publishes nothing
	_, err = svc.Ingest(context.Background(), orderevent.KindUpdated, external)
	assert.ErrorIs(t, err, ErrStaleMutation)
	_, ok = sub.Pop()
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	repo := memory.NewRepository()
	first := bus.New()
	svc := MustNewOrderService(WithRepository(repo), WithEventSink(first))

	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
	require.NoError(t, err)

	// a fresh process over the same repository
	second := bus.New()
	restored := MustNewOrderService(WithRepository(repo), WithEventSink(second))
	require.NoError(t, restored.Restore(context.Background()))

	got, err := restored.Get(context.Background(), "rest_1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, int64(2), got.Version)

	// sequences resume after everything handed out before the restart
	_, err = restored.Transition(context.Background(), "rest_1", created.ID, 2, order.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), second.CurrentSequence("rest_1"))
}

func TestListSince(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), testDraft())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), "rest_1", created.ID, 1, order.StatusPending)
	require.NoError(t, err)

	// sequence 3 was the transition; only the transitioned order qualifies
	orders, err := svc.ListSince(context.Background(), "rest_1", 2)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, created.ID, orders[0].ID)
}
