package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
)

// publisher is the slice of the broker client the worker depends on.
type publisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// message is one event waiting to go out to the broker.
type message struct {
	routingKey string
	body       []byte
	retryCount int
	nextTryAt  time.Time
}

// Worker relays published order events to the message broker, so off-host
// consumers like receipt printers and analytics hear about mutations
// without holding a websocket. Delivery is at-least-once and may reorder
// around publish failures; consumers order by the sequence inside each
// event. A broker outage never blocks a mutation: events buffer in memory
// and the oldest are dropped once the buffer is full.
type Worker struct {
	publisher publisher
	exchange  string

	mu      sync.Mutex
	pending []*message

	capacity     int
	batchSize    int
	pollInterval time.Duration
	maxRetries   int
	stopCh       chan struct{}
}

// NewWorker creates a new relay worker.
func NewWorker(publisher publisher) *Worker {
	exchange := viper.GetString("rabbitmq.exchange")
	if exchange == "" {
		exchange = "orders"
	}

	pollIntervalSeconds := viper.GetInt("rabbitmq.relay.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 2
	}

	batchSize := viper.GetInt("rabbitmq.relay.batch_size")
	if batchSize == 0 {
		batchSize = 100
	}

	capacity := viper.GetInt("rabbitmq.relay.buffer_capacity")
	if capacity == 0 {
		capacity = 1024
	}

	maxRetries := viper.GetInt("rabbitmq.relay.max_retries")
	if maxRetries == 0 {
		maxRetries = 5
	}

	return &Worker{
		publisher:    publisher,
		exchange:     exchange,
		capacity:     capacity,
		batchSize:    batchSize,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		maxRetries:   maxRetries,
		stopCh:       make(chan struct{}),
	}
}

// Enqueue buffers one event for the broker. It is registered as a bus tap
// and runs on the publisher's goroutine, so it must never block.
func (w *Worker) Enqueue(evt orderevent.OrderEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Error("Failed to marshal event for relay", "error", err)

		return
	}
	msg := &message{
		routingKey: fmt.Sprintf("orders.%s.%s", evt.RestaurantID, evt.Kind),
		body:       body,
	}

	w.mu.Lock()
	if len(w.pending) >= w.capacity {
		dropped := w.pending[0]
		w.pending = w.pending[1:]
		slog.Warn("Relay buffer full, dropping oldest message", "routing_key", dropped.routingKey)
	}
	w.pending = append(w.pending, msg)
	w.mu.Unlock()
}

// Pending reports how many messages wait for the broker.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.pending)
}

// Start begins relaying buffered events to the broker.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Relay worker started",
		"exchange", w.exchange,
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Relay worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Relay worker stopped")

			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// flush publishes every due message and reschedules failures with
// exponential backoff.
func (w *Worker) flush(ctx context.Context) {
	now := time.Now()
	batch := w.take(now)
	if len(batch) == 0 {
		return
	}

	_, span := otel.Tracer("relay").Start(ctx, "Worker.flush")
	defer span.End()

	var requeue []*message
	for _, msg := range batch {
		err := w.publisher.Publish(w.exchange, msg.routingKey, msg.body)
		if err == nil {
			continue
		}

		msg.retryCount++
		if msg.retryCount > w.maxRetries {
			slog.Error("Dropping message after repeated publish failures",
				"routing_key", msg.routingKey,
				"retry_count", msg.retryCount,
				"error", err,
			)

			continue
		}
		backoffSeconds := math.Pow(2, float64(msg.retryCount)) * 30 // 60s, 120s, 240s, etc.
		msg.nextTryAt = now.Add(time.Duration(backoffSeconds) * time.Second)

		slog.Warn("Failed to publish message, will retry",
			"routing_key", msg.routingKey,
			"retry_count", msg.retryCount,
			"next_retry", msg.nextTryAt,
			"error", err,
		)
		requeue = append(requeue, msg)
	}

	if len(requeue) > 0 {
		w.mu.Lock()
		w.pending = append(requeue, w.pending...)
		w.mu.Unlock()
	}
}

// take pops up to batchSize messages that are due at now.
func (w *Worker) take(now time.Time) []*message {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready, rest []*message
	for _, msg := range w.pending {
		if len(ready) < w.batchSize && !msg.nextTryAt.After(now) {
			ready = append(ready, msg)

			continue
		}
		rest = append(rest, msg)
	}
	w.pending = rest

	return ready
}
