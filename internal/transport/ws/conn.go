package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/bus"
)

// connState tracks the server-side lifecycle of one connection.
type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateOpen
	stateDraining
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateOpen:
		return "open"
	case stateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// conn is one upgraded display connection. The read loop owns inbound
// protocol handling; the write loop is the sole socket writer, fed by the
// control channel and the bus subscription. Live event delivery stays gated
// until the client's first resync_request or subscribe_ack, so replayed
// history always precedes live events on the wire.
type conn struct {
	id       uint64
	sock     *websocket.Conn
	gateway  *Gateway
	identity auth.Identity

	sub        *bus.Subscription
	initialSeq uint64

	outbound chan Envelope
	gate     chan struct{}
	gateOnce sync.Once
	done     chan struct{}

	state        atomic.Int32
	resyncServed atomic.Bool
	closeOnce    sync.Once
	malformed    int
}

func newConn(g *Gateway, sock *websocket.Conn) *conn {
	return &conn{
		id:       g.nextConnID(),
		sock:     sock,
		gateway:  g,
		outbound: make(chan Envelope, 16),
		gate:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run drives the connection from authentication to teardown; it returns
// once the connection is closed.
func (c *conn) run(r *http.Request) {
	c.setState(stateAuthenticating)
	identity, err := auth.Authenticate(context.Background(), c.gateway.validator, r)
	if err != nil {
		slog.Warn("Connection rejected",
			"connection_id", c.id,
			"remote_addr", c.sock.RemoteAddr().String(),
			"error", err,
		)
		c.closeWith(ClosePolicyViolation, "authentication failed")
		return
	}
	c.identity = identity

	c.sub, c.initialSeq = c.gateway.bus.Subscribe(identity.RestaurantID)
	c.setState(stateOpen)
	slog.Info("Connection open",
		"connection_id", c.id,
		"restaurant_id", identity.RestaurantID,
		"role", identity.Role.String(),
		"initial_sequence", c.initialSeq,
	)

	go c.writeLoop()
	c.readLoop()
	c.closeWith(CloseNormal, "connection closed")
}

func (c *conn) readLoop() {
	cfg := c.gateway.cfg
	c.sock.SetReadLimit(maxMessageBytes)
	for {
		_ = c.sock.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if c.noteMalformed("invalid envelope json") {
				return
			}
			continue
		}
		if env.RestaurantID != "" && env.RestaurantID != c.identity.RestaurantID {
			c.send(NewErrorEnvelope(c.identity.RestaurantID, ErrCodeTenantMismatch,
				"envelope restaurant does not match credential"))
			c.closeWith(ClosePolicyViolation, "tenant mismatch")
			return
		}

		switch env.Type {
		case TypeHeartbeat:
			c.send(NewHeartbeatAck(c.identity.RestaurantID))
		case TypeSubscribeAck:
			var payload AckPayload
			if len(env.Payload) > 0 {
				if err := json.Unmarshal(env.Payload, &payload); err != nil {
					if c.noteMalformed("invalid subscribe_ack payload") {
						return
					}
					continue
				}
			}
			c.sub.Ack(payload.Sequence)
			// an ack from a client that skipped resync starts live delivery
			c.openGate()
		case TypeResyncRequest:
			if closed := c.handleResync(env); closed {
				return
			}
		default:
			if c.noteMalformed("unknown message type: " + env.Type) {
				return
			}
		}
	}
}

// handleResync serves the once-per-connection replay. Returns true when the
// connection closed as a result.
func (c *conn) handleResync(env Envelope) bool {
	restaurantID := c.identity.RestaurantID
	if c.resyncServed.Swap(true) {
		c.send(NewErrorEnvelope(restaurantID, ErrCodeResyncAlreadyServed,
			"resync already served on this connection, reconnect to resync again"))
		return false
	}

	var payload ResyncPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return c.noteMalformed("invalid resync_request payload")
		}
	}

	events, ok := c.gateway.bus.Replay(restaurantID, payload.Since, c.initialSeq)
	switch {
	case !ok:
		c.send(NewErrorEnvelope(restaurantID, ErrCodeResyncWindowExceeded,
			"requested sequence is out of the replay window, fetch a full snapshot"))
	case len(events) > 0:
		if err := c.sub.Preload(events); err != nil {
			slog.Warn("Replay preload overflowed subscriber queue",
				"connection_id", c.id,
				"restaurant_id", restaurantID,
				"events", len(events),
			)
			c.closeWith(CloseQueueOverflow, "subscriber queue overflowed")
			return true
		}
	}

	slog.Debug("Resync served",
		"connection_id", c.id,
		"restaurant_id", restaurantID,
		"since", payload.Since,
		"through", c.initialSeq,
		"replayed", len(events),
	)
	c.openGate()
	return false
}

// writeLoop is the only goroutine that writes data frames. Control messages
// (acks, errors, replay notices) preempt live delivery; live events drain
// from the subscription queue once the gate opens.
func (c *conn) writeLoop() {
	gateCh := c.gate
	for {
		select {
		case <-c.done:
			return
		case env := <-c.outbound:
			if err := c.write(env); err != nil {
				c.failWrite(err)
				return
			}
		case <-gateCh:
			gateCh = nil
			if !c.drainEvents() {
				return
			}
		case <-c.sub.Wait():
			if !c.drainEvents() {
				return
			}
		}
	}
}

// drainEvents pops and writes queued live events. Returns false when the
// connection should stop.
func (c *conn) drainEvents() bool {
	if !c.gateOpen() {
		// subscription may close while delivery is still gated
		if c.sub.Closed() {
			c.closeSubscriptionEnded()
			return false
		}
		return true
	}
	for {
		evt, ok := c.sub.Pop()
		if !ok {
			break
		}
		env, err := NewEventEnvelope(evt)
		if err != nil {
			slog.Error("Failed to build event envelope",
				"connection_id", c.id,
				"sequence", evt.Sequence,
				"error", err,
			)
			continue
		}
		if err := c.write(env); err != nil {
			c.failWrite(err)
			return false
		}
	}
	if c.sub.Closed() {
		c.closeSubscriptionEnded()
		return false
	}
	return true
}

func (c *conn) closeSubscriptionEnded() {
	if c.sub.Overflowed() {
		c.closeWith(CloseQueueOverflow, "subscriber queue overflowed")
		return
	}
	c.closeWith(CloseNormal, "subscription closed")
}

func (c *conn) failWrite(err error) {
	slog.Debug("Write failed", "connection_id", c.id, "error", err)
	c.closeWith(CloseNormal, "write failed")
}

func (c *conn) write(env Envelope) error {
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.gateway.cfg.WriteTimeout))
	return c.sock.WriteJSON(env)
}

// send queues a control envelope for the write loop. Returns false when the
// connection is already gone.
func (c *conn) send(env Envelope) bool {
	select {
	case c.outbound <- env:
		return true
	case <-c.done:
		return false
	}
}

// noteMalformed registers a protocol violation, answering with an error
// envelope and closing the connection once the limit is reached. Returns
// true when the connection closed.
func (c *conn) noteMalformed(reason string) bool {
	c.malformed++
	slog.Warn("Malformed message",
		"connection_id", c.id,
		"reason", reason,
		"count", c.malformed,
		"limit", c.gateway.cfg.MalformedLimit,
	)
	c.send(NewErrorEnvelope(c.identity.RestaurantID, ErrCodeMalformedMessage, reason))
	if c.malformed >= c.gateway.cfg.MalformedLimit {
		c.closeWith(ClosePolicyViolation, "malformed message limit exceeded")
		return true
	}
	return false
}

func (c *conn) openGate() {
	c.gateOnce.Do(func() {
		close(c.gate)
	})
}

func (c *conn) gateOpen() bool {
	select {
	case <-c.gate:
		return true
	default:
		return false
	}
}

func (c *conn) setState(s connState) {
	c.state.Store(int32(s))
	slog.Debug("Connection state", "connection_id", c.id, "state", s.String())
}

// closeWith sends a close frame and tears the connection down: socket
// closed, subscription released synchronously, waiters woken. The first
// caller picks the close code; later calls are no-ops.
func (c *conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(stateDraining)
		deadline := time.Now().Add(c.gateway.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.sock.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			slog.Debug("Failed to write close frame", "connection_id", c.id, "error", err)
		}
		_ = c.sock.Close()
		if c.sub != nil {
			c.sub.Close()
		}
		close(c.done)
		c.setState(stateClosed)
		slog.Info("Connection closed",
			"connection_id", c.id,
			"restaurant_id", c.identity.RestaurantID,
			"code", code,
			"reason", reason,
		)
	})
}
