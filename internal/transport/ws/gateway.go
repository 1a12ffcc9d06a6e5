package wstransport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/bus"
)

// Close codes sent by the gateway. Policy violations cover failed
// authentication, tenant mismatch and the malformed-message threshold.
// Service restart tells clients to reconnect immediately without backoff;
// try-again-later tells a healthy client its queue overflowed and it must
// reconnect and resync.
const (
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseNormal          = websocket.CloseNormalClosure
	CloseServerShutdown  = websocket.CloseServiceRestart
	CloseQueueOverflow   = websocket.CloseTryAgainLater
)

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultMalformedLimit   = 5
	maxMessageBytes         = 64 << 10
)

// Config carries the gateway's tunables.
type Config struct {
	// HeartbeatTimeout closes a connection with no inbound traffic for this
	// long; clients probe with heartbeat envelopes well inside it.
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	MalformedLimit   int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MalformedLimit <= 0 {
		c.MalformedLimit = defaultMalformedLimit
	}
	return c
}

// Gateway upgrades display connections, authenticates them against the
// platform validator and streams each tenant's event feed over the wire
// protocol. Tenant scope comes from the credential alone; a client cannot
// name another restaurant.
type Gateway struct {
	bus       *bus.Bus
	validator auth.Validator
	cfg       Config
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	conns    map[*conn]struct{}
	connSeq  atomic.Uint64
	draining atomic.Bool
}

func NewGateway(b *bus.Bus, validator auth.Validator, cfg Config) *Gateway {
	return &Gateway{
		bus:       b,
		validator: validator,
		cfg:       cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// access control happens at the credential layer, not the
			// browser origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(g, sock)
	g.track(c)
	defer g.untrack(c)
	c.run(r)
}

// Shutdown stops accepting new connections and closes every open one with
// the server-shutdown code, so clients reconnect without backoff once the
// server is back.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.draining.Store(true)

	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, c := range conns {
		c := c
		group.Go(func() error {
			c.closeWith(CloseServerShutdown, "server shutting down")
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return group.Wait()
}

// ConnCount reports the currently tracked connections.
func (g *Gateway) ConnCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) nextConnID() uint64 {
	return g.connSeq.Add(1)
}

func (g *Gateway) track(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c] = struct{}{}
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c)
}
