package wstransport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

// Message types carried by the wire envelope, one envelope per frame.
// Clients send the first group; the gateway sends the second.
const (
	TypeSubscribeAck  = "subscribe_ack"
	TypeResyncRequest = "resync_request"
	TypeHeartbeat     = "heartbeat"

	TypeOrderCreated       = "order:created"
	TypeOrderUpdated       = "order:updated"
	TypeOrderStatusChanged = "order:status_changed"
	TypeError              = "error"
	TypeHeartbeatAck       = "heartbeat_ack"
)

// Error codes carried inside error envelopes.
const (
	ErrCodeMalformedMessage     = "malformed_message"
	ErrCodeTenantMismatch       = "tenant_mismatch"
	ErrCodeResyncWindowExceeded = "resync_window_exceeded"
	ErrCodeResyncAlreadyServed  = "resync_already_served"
)

// Envelope is the bidirectional wire frame. Sequence is set only on order
// event messages; control messages carry none.
type Envelope struct {
	Type         string          `json:"type"`
	RestaurantID string          `json:"restaurant_id"`
	Sequence     uint64          `json:"sequence,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AckPayload is the payload of subscribe_ack messages.
type AckPayload struct {
	Sequence uint64 `json:"sequence"`
}

// ResyncPayload is the payload of resync_request messages.
type ResyncPayload struct {
	Since uint64 `json:"since"`
}

// ErrorPayload is the payload of error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEventEnvelope wraps a published order event for the wire.
func NewEventEnvelope(evt orderevent.OrderEvent) (Envelope, error) {
	msgType, err := TypeForKind(evt.Kind)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(evt.Order)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal order payload: %w", err)
	}
	return Envelope{
		Type:         msgType,
		RestaurantID: evt.RestaurantID,
		Sequence:     evt.Sequence,
		Payload:      payload,
		Timestamp:    evt.Timestamp,
	}, nil
}

// EventFromEnvelope reverses NewEventEnvelope on the consuming side.
func EventFromEnvelope(env Envelope) (orderevent.OrderEvent, error) {
	kind, err := KindForType(env.Type)
	if err != nil {
		return orderevent.OrderEvent{}, err
	}
	evt := orderevent.OrderEvent{
		RestaurantID: env.RestaurantID,
		Sequence:     env.Sequence,
		Kind:         kind,
		Timestamp:    env.Timestamp,
	}
	if err := json.Unmarshal(env.Payload, &evt.Order); err != nil {
		return orderevent.OrderEvent{}, fmt.Errorf("failed to unmarshal order payload: %w", err)
	}
	return evt, nil
}

// TypeForKind maps the closed event kind set onto wire message types.
func TypeForKind(kind orderevent.Kind) (string, error) {
	switch kind {
	case orderevent.KindCreated:
		return TypeOrderCreated, nil
	case orderevent.KindUpdated:
		return TypeOrderUpdated, nil
	case orderevent.KindStatusChanged:
		return TypeOrderStatusChanged, nil
	default:
		return "", fmt.Errorf("%w: %q", orderevent.ErrInvalidKind, kind)
	}
}

// KindForType is the inverse of TypeForKind.
func KindForType(msgType string) (orderevent.Kind, error) {
	switch msgType {
	case TypeOrderCreated:
		return orderevent.KindCreated, nil
	case TypeOrderUpdated:
		return orderevent.KindUpdated, nil
	case TypeOrderStatusChanged:
		return orderevent.KindStatusChanged, nil
	default:
		return "", fmt.Errorf("%w: message type %q", orderevent.ErrInvalidKind, msgType)
	}
}

// IsEventType reports whether a message type carries an order event.
func IsEventType(msgType string) bool {
	_, err := KindForType(msgType)
	return err == nil
}

// NewErrorEnvelope builds an error message for one connection.
func NewErrorEnvelope(restaurantID, code, message string) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Envelope{
		Type:         TypeError,
		RestaurantID: restaurantID,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}

// NewHeartbeatAck builds the reply to a client heartbeat.
func NewHeartbeatAck(restaurantID string) Envelope {
	return Envelope{
		Type:         TypeHeartbeatAck,
		RestaurantID: restaurantID,
		Timestamp:    time.Now().UTC(),
	}
}

// NewHeartbeat builds the client-side liveness probe.
func NewHeartbeat(restaurantID string) Envelope {
	return Envelope{
		Type:         TypeHeartbeat,
		RestaurantID: restaurantID,
		Timestamp:    time.Now().UTC(),
	}
}

// NewSubscribeAck builds the client-side delivery acknowledgement.
func NewSubscribeAck(restaurantID string, sequence uint64) (Envelope, error) {
	payload, err := json.Marshal(AckPayload{Sequence: sequence})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:         TypeSubscribeAck,
		RestaurantID: restaurantID,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// NewResyncRequest builds the client-side replay request for events after
// since.
func NewResyncRequest(restaurantID string, since uint64) (Envelope, error) {
	payload, err := json.Marshal(ResyncPayload{Since: since})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:         TypeResyncRequest,
		RestaurantID: restaurantID,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}, nil
}
