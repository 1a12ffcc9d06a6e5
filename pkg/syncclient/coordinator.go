package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
	wstransport "github.com/mikeyoung304/expo-sync/internal/transport/ws"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultAckInterval       = 8
)

// State represents the coordinator's connection condition, surfaced so
// displays can render a degraded-mode indicator.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

var (
	// ErrRejected means the server refused the credentials or the tenant
	// claim. Retrying cannot help; the operator has to fix the token.
	ErrRejected = errors.New("connection rejected by server")
	// ErrServerShutdown means the server closed the connection for a
	// restart and expects an immediate reconnect without backoff.
	ErrServerShutdown = errors.New("server is restarting")
	// ErrResyncRequired means the server dropped the subscriber after a
	// queue overflow and a reconnect with resync is needed.
	ErrResyncRequired = errors.New("server forced a resync")
	// ErrDisconnected means the reconnect attempt budget is exhausted.
	ErrDisconnected = errors.New("reconnection attempts exhausted")
)

// Conn is a live gateway connection speaking the order stream protocol.
type Conn interface {
	ReadEnvelope() (wstransport.Envelope, error)
	WriteEnvelope(env wstransport.Envelope) error
	Close() error
}

// Dialer establishes gateway connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// SnapshotFunc fetches the full order board and the sequence it was taken
// at, normally over the HTTP list endpoint.
type SnapshotFunc func(ctx context.Context) ([]order.Order, uint64, error)

// Config carries the coordinator knobs.
type Config struct {
	RestaurantID      string
	Backoff           Backoff
	HeartbeatInterval time.Duration
	AckInterval       int
}

func (c Config) withDefaults() Config {
	c.Backoff = c.Backoff.withDefaults()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.AckInterval <= 0 {
		c.AckInterval = defaultAckInterval
	}
	return c
}

// Coordinator keeps a display synchronized with the gateway: it dials,
// resyncs missed events, heals the cache from a snapshot, and reconnects
// with linear backoff when the link drops.
type Coordinator struct {
	dialer   Dialer
	snapshot SnapshotFunc
	cache    *Cache
	cfg      Config

	mu      sync.RWMutex
	state   State
	onState func(State)
	onEvent func(evt orderevent.OrderEvent)
}

type coordinatorOption func(c *Coordinator)

// WithStateHandler registers a callback invoked on every state change.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStateHandler(fn func(state State)) coordinatorOption {
	return func(c *Coordinator) {
		c.onState = fn
	}
}

// WithEventHandler registers a callback invoked for every stream event
// that changed the cache.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventHandler(fn func(evt orderevent.OrderEvent)) coordinatorOption {
	return func(c *Coordinator) {
		c.onEvent = fn
	}
}

// NewCoordinator wires a coordinator over the given dialer, snapshot
// source and cache.
func NewCoordinator(dialer Dialer, snapshot SnapshotFunc, cache *Cache, cfg Config, opts ...coordinatorOption) *Coordinator {
	c := &Coordinator{
		dialer:   dialer,
		snapshot: snapshot,
		cache:    cache,
		cfg:      cfg.withDefaults(),
		state:    StateConnecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	fn := c.onState
	c.mu.Unlock()

	slog.Info("Sync state changed", "restaurant_id", c.cfg.RestaurantID, "state", string(state))
	if fn != nil {
		fn(state)
	}
}

// Run drives the session loop until the context is cancelled, the server
// rejects the credentials, or the reconnect budget runs out. A session
// that reached the connected state resets the attempt counter.
func (c *Coordinator) Run(ctx context.Context) error {
	attempt := 0
	for {
		synced, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if errors.Is(err, ErrRejected) {
			c.setState(StateDisconnected)
			return err
		}
		if synced {
			attempt = 0
		}
		if errors.Is(err, ErrServerShutdown) {
			slog.Info("Server restarting, reconnecting immediately", "restaurant_id", c.cfg.RestaurantID)
			c.setState(StateReconnecting)
			continue
		}

		attempt++
		if c.cfg.Backoff.Exhausted(attempt) {
			c.setState(StateDisconnected)
			return fmt.Errorf("%w after %d attempts: %v", ErrDisconnected, attempt-1, err)
		}
		c.setState(StateReconnecting)
		delay := c.cfg.Backoff.Delay(attempt)
		slog.Warn("Connection lost, reconnecting",
			"restaurant_id", c.cfg.RestaurantID,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one full connection: dial, request replay from the last
// acknowledged sequence, heal from a snapshot, then pump events until the
// link breaks. The returned bool reports whether the session got as far
// as the connected state.
func (c *Coordinator) session(ctx context.Context) (bool, error) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = conn.Close()
	}()

	// The resync request goes out first so the gateway holds live
	// delivery until the replayed gap is queued ahead of it.
	resync, err := wstransport.NewResyncRequest(c.cfg.RestaurantID, c.cache.LastSequence())
	if err != nil {
		return false, fmt.Errorf("failed to build resync request: %w", err)
	}
	if err := conn.WriteEnvelope(resync); err != nil {
		return false, fmt.Errorf("failed to send resync request: %w", err)
	}

	orders, sequence, err := c.snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	c.cache.ApplySnapshot(orders, sequence)
	c.setState(StateConnected)
	slog.Info("Synchronized with server",
		"restaurant_id", c.cfg.RestaurantID,
		"orders", len(orders),
		"sequence", sequence)

	return true, c.pump(ctx, conn)
}

// pump applies stream events and keeps the heartbeat going until the read
// side fails or the context is cancelled.
func (c *Coordinator) pump(ctx context.Context, conn Conn) error {
	envelopes := make(chan wstransport.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case envelopes <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	applied := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-heartbeat.C:
			if err := conn.WriteEnvelope(wstransport.NewHeartbeat(c.cfg.RestaurantID)); err != nil {
				return fmt.Errorf("failed to send heartbeat: %w", err)
			}
		case env := <-envelopes:
			if err := c.handleEnvelope(conn, env, &applied); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) handleEnvelope(conn Conn, env wstransport.Envelope, applied *int) error {
	switch {
	case wstransport.IsEventType(env.Type):
		evt, err := wstransport.EventFromEnvelope(env)
		if err != nil {
			slog.Warn("Dropping undecodable event", "type", env.Type, "error", err)
			return nil
		}
		if c.cache.ApplyEvent(evt) && c.onEvent != nil {
			c.onEvent(evt)
		}
		*applied++
		if *applied%c.cfg.AckInterval == 0 {
			return c.acknowledge(conn)
		}
		return nil
	case env.Type == wstransport.TypeHeartbeatAck:
		return nil
	case env.Type == wstransport.TypeError:
		var payload wstransport.ErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			slog.Warn("Undecodable error envelope", "error", err)
			return nil
		}
		// A blown replay window is already healed by the snapshot this
		// session fetched, so it is only worth a log line.
		slog.Warn("Server reported an error",
			"restaurant_id", c.cfg.RestaurantID,
			"code", payload.Code,
			"message", payload.Message)
		return nil
	default:
		slog.Debug("Ignoring envelope", "type", env.Type)
		return nil
	}
}

func (c *Coordinator) acknowledge(conn Conn) error {
	ack, err := wstransport.NewSubscribeAck(c.cfg.RestaurantID, c.cache.LastSequence())
	if err != nil {
		return fmt.Errorf("failed to build ack: %w", err)
	}
	if err := conn.WriteEnvelope(ack); err != nil {
		return fmt.Errorf("failed to send ack: %w", err)
	}
	return nil
}
