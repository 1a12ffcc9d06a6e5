package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/bus"
	"github.com/mikeyoung304/expo-sync/internal/dal/interfaces/iorderrepo"
	"github.com/mikeyoung304/expo-sync/internal/dal/postgres"
	"github.com/mikeyoung304/expo-sync/internal/dal/rabbitmq"
	memoryrepo "github.com/mikeyoung304/expo-sync/internal/dal/repositories/order/memory"
	postgresrepo "github.com/mikeyoung304/expo-sync/internal/dal/repositories/order/postgres"
	"github.com/mikeyoung304/expo-sync/internal/otel"
	"github.com/mikeyoung304/expo-sync/internal/service/services/ordersvc"
	httptransport "github.com/mikeyoung304/expo-sync/internal/transport/http"
	wstransport "github.com/mikeyoung304/expo-sync/internal/transport/ws"
	"github.com/mikeyoung304/expo-sync/internal/urgency"
	relayworker "github.com/mikeyoung304/expo-sync/internal/worker/relay"
)

// App represents the application.
type App struct {
	orderSvc       *ordersvc.OrderService
	transport      *httptransport.HTTPTransport
	gateway        *wstransport.Gateway
	relayWorker    *relayworker.Worker
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	app := &App{}

	if viper.GetBool("tracing.enabled") {
		app.otelController = otel.MustInitOtel()
	}

	var repo iorderrepo.IOrderRepository = memoryrepo.NewRepository()
	if viper.GetBool("postgres.enabled") {
		app.postgresClient = postgres.MustNewClient()
		repo = postgresrepo.NewPostgresOrderRepository(app.postgresClient)
	}

	eventBus := bus.New(
		bus.WithQueueCapacity(viper.GetInt("bus.queue_capacity")),
		bus.WithReplayWindow(viper.GetInt("bus.replay_window")),
	)

	orderSvc := ordersvc.MustNewOrderService(
		ordersvc.WithEventSink(eventBus),
		ordersvc.WithRepository(repo),
	)
	if err := orderSvc.Restore(context.Background()); err != nil {
		panic("error while restoring orders: " + err.Error())
	}

	if viper.GetBool("rabbitmq.enabled") {
		app.rabbitMqClient = rabbitmq.MustNewClient()
		exchange := viper.GetString("rabbitmq.exchange")
		if exchange == "" {
			exchange = "orders"
		}
		err := app.rabbitMqClient.DeclareExchange(rabbitmq.DeclareExchangeConfig{
			Name:    exchange,
			Kind:    "topic",
			Durable: true,
		})
		if err != nil {
			panic("error while declaring exchange: " + err.Error())
		}
		app.relayWorker = relayworker.NewWorker(app.rabbitMqClient)
		eventBus.OnPublish(app.relayWorker.Enqueue)
	}

	validator := auth.MustNewValidator()

	gateway := wstransport.NewGateway(eventBus, validator, wstransport.Config{
		HeartbeatTimeout: viper.GetDuration("server.ws.heartbeat_timeout"),
		WriteTimeout:     viper.GetDuration("server.ws.write_timeout"),
		MalformedLimit:   viper.GetInt("server.ws.malformed_limit"),
	})

	transport := httptransport.NewHTTPTransport(orderSvc, validator, gateway, tenantThresholds)
	transport.RegisterRoutes()

	app.orderSvc = orderSvc
	app.transport = transport
	app.gateway = gateway
	return app
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if a.relayWorker != nil {
		go func() {
			slog.Info("Starting event relay worker")
			a.relayWorker.Start(ctx)
		}()
	}

	<-stop
	slog.Info("Shutdown signal received")
	cancel()

	a.gracefulShutdown()
}

// gracefulShutdown performs graceful shutdown of all application components.
// The HTTP listener stops first so no new requests or upgrades land, then the
// gateway closes every websocket with the server-shutdown code so displays
// reconnect without backoff once the server is back.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.gateway.Shutdown(ctx); err != nil {
		slog.Error("Websocket gateway shutdown error", "error", err)
	} else {
		slog.Info("Websocket gateway stopped gracefully")
	}

	if a.relayWorker != nil {
		a.relayWorker.Stop()
		slog.Info("Event relay worker stopped gracefully")
	}

	if a.rabbitMqClient != nil {
		if err := a.rabbitMqClient.Close(); err != nil {
			slog.Error("RabbitMQ connection close error", "error", err)
		} else {
			slog.Info("RabbitMQ connection closed gracefully")
		}
	}

	if a.postgresClient != nil {
		a.postgresClient.Close()
	}

	if a.otelController != nil {
		if err := a.otelController.Shutdown(); err != nil {
			slog.Error("Otel trace provider connection close error", "error", err)
		} else {
			slog.Info("Otel trace provider connection closed gracefully")
		}
	}

	select {
	case <-ctx.Done():
		slog.Warn("Shutdown timeout exceeded")
	default:
		slog.Info("Application shutdown complete")
	}
}

// tenantThresholds resolves the urgency boundaries of one restaurant from
// config, platform overrides first, then per-tenant ones.
func tenantThresholds(restaurantID string) urgency.Thresholds {
	t := urgency.DefaultThresholds
	if v := viper.GetInt("urgency.warning_minutes"); v > 0 {
		t.WarningMinutes = v
	}
	if v := viper.GetInt("urgency.urgent_minutes"); v > 0 {
		t.UrgentMinutes = v
	}

	prefix := "urgency.tenants." + restaurantID + "."
	if v := viper.GetInt(prefix + "warning_minutes"); v > 0 {
		t.WarningMinutes = v
	}
	if v := viper.GetInt(prefix + "urgent_minutes"); v > 0 {
		t.UrgentMinutes = v
	}
	return t
}
