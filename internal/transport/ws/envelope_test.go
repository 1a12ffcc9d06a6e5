package wstransport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

func TestEventEnvelopeRoundTrip(t *testing.T) {
	evt := orderevent.OrderEvent{
		RestaurantID: "rest_1",
		Sequence:     42,
		Kind:         orderevent.KindStatusChanged,
		Order: order.Order{
			ID:           "o1",
			RestaurantID: "rest_1",
			Status:       order.StatusReady,
			Items:        []order.LineItem{{Name: "Burger", Quantity: 1, UnitPriceCents: 1250}},
			Version:      3,
		},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	env, err := NewEventEnvelope(evt)
	require.NoError(t, err)
	assert.Equal(t, TypeOrderStatusChanged, env.Type)
	assert.Equal(t, "rest_1", env.RestaurantID)
	assert.Equal(t, uint64(42), env.Sequence)

	// through the wire and back
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, err := EventFromEnvelope(decoded)
	require.NoError(t, err)
	assert.Equal(t, evt.Sequence, got.Sequence)
	assert.Equal(t, evt.Kind, got.Kind)
	assert.Equal(t, evt.Order.ID, got.Order.ID)
	assert.Equal(t, evt.Order.Status, got.Order.Status)
	assert.Equal(t, evt.Order.Version, got.Order.Version)
}

func TestTypeKindMappingIsExhaustive(t *testing.T) {
	kinds := []orderevent.Kind{orderevent.KindCreated, orderevent.KindUpdated, orderevent.KindStatusChanged}
	for _, kind := range kinds {
		msgType, err := TypeForKind(kind)
		require.NoError(t, err)
		back, err := KindForType(msgType)
		require.NoError(t, err)
		assert.Equal(t, kind, back)
		assert.True(t, IsEventType(msgType))
	}

	_, err := TypeForKind("deleted")
	assert.ErrorIs(t, err, orderevent.ErrInvalidKind)
	_, err = KindForType("order:deleted")
	assert.ErrorIs(t, err, orderevent.ErrInvalidKind)
	assert.False(t, IsEventType(TypeHeartbeat))
	assert.False(t, IsEventType(TypeError))
}

func TestControlEnvelopes(t *testing.T) {
	ack, err := NewSubscribeAck("rest_1", 17)
	require.NoError(t, err)
	var ackPayload AckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &ackPayload))
	assert.Equal(t, uint64(17), ackPayload.Sequence)
	assert.Zero(t, ack.Sequence, "control messages carry no stream sequence")

	resync, err := NewResyncRequest("rest_1", 9)
	require.NoError(t, err)
	var resyncPayload ResyncPayload
	require.NoError(t, json.Unmarshal(resync.Payload, &resyncPayload))
	assert.Equal(t, uint64(9), resyncPayload.Since)

	errEnv := NewErrorEnvelope("rest_1", ErrCodeTenantMismatch, "nope")
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Payload, &errPayload))
	assert.Equal(t, ErrCodeTenantMismatch, errPayload.Code)
	assert.Equal(t, "nope", errPayload.Message)

	hb := NewHeartbeat("rest_1")
	assert.Equal(t, TypeHeartbeat, hb.Type)
	assert.False(t, hb.Timestamp.IsZero())
	assert.Equal(t, TypeHeartbeatAck, NewHeartbeatAck("rest_1").Type)
}
