package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	createorder "github.com/mikeyoung304/expo-sync/internal/transport/http/create_order"
	getorder "github.com/mikeyoung304/expo-sync/internal/transport/http/get_order"
	listorders "github.com/mikeyoung304/expo-sync/internal/transport/http/list_orders"
	transitionorder "github.com/mikeyoung304/expo-sync/internal/transport/http/transition_order"
	updateitems "github.com/mikeyoung304/expo-sync/internal/transport/http/update_items"
	"github.com/mikeyoung304/expo-sync/internal/urgency"
	"github.com/mikeyoung304/expo-sync/pkg/http/middleware/authn"
	"github.com/mikeyoung304/expo-sync/pkg/http/middleware/trace"
	"github.com/mikeyoung304/expo-sync/pkg/logger"
)

type service interface {
	Create(ctx context.Context, draft order.Draft) (order.Order, error)
	Get(ctx context.Context, restaurantID, orderID string) (order.Order, error)
	Transition(ctx context.Context, restaurantID, orderID string, expectedVersion int64, next order.Status) (order.Order, error)
	ApplyItemDelta(ctx context.Context, restaurantID, orderID string, expectedVersion int64, delta order.ItemDelta) (order.Order, error)
	Snapshot(ctx context.Context, restaurantID string) ([]order.Order, uint64, error)
	ListSince(ctx context.Context, restaurantID string, sinceSequence uint64) ([]order.Order, error)
	CurrentSequence(restaurantID string) uint64
}

type HTTPTransport struct {
	server     *http.Server
	router     *chi.Mux
	service    service
	validator  auth.Validator
	gateway    http.Handler
	thresholds urgency.ThresholdSource
}

func NewHTTPTransport(service service, validator auth.Validator, gateway http.Handler, thresholds urgency.ThresholdSource) *HTTPTransport {
	router := newRouter()
	server := newServer(router)
	return &HTTPTransport{
		server:     server,
		router:     router,
		service:    service,
		validator:  validator,
		gateway:    gateway,
		thresholds: thresholds,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

// Shutdown stops accepting new requests and drains the in-flight ones.
func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport. The websocket
// gateway is mounted outside the auth middleware because it authenticates
// during its own handshake and answers with close codes, not 401s.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Use(authn.NewAuthMiddleware(h.validator))
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/orders/{orderID}/status", h.transitionOrder)
		r.Post("/orders/{orderID}/items", h.updateItems)
	})
	h.router.Handle("/ws", h.gateway)
}

func (h *HTTPTransport) createOrder(w http.ResponseWriter, r *http.Request) {
	createorder.CreateOrder(w, r, h.service)
}

func (h *HTTPTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrders(w, r, h.service, h.thresholds)
}

func (h *HTTPTransport) getOrder(w http.ResponseWriter, r *http.Request) {
	getorder.GetOrder(w, r, h.service)
}

func (h *HTTPTransport) transitionOrder(w http.ResponseWriter, r *http.Request) {
	transitionorder.TransitionOrder(w, r, h.service)
}

func (h *HTTPTransport) updateItems(w http.ResponseWriter, r *http.Request) {
	updateitems.UpdateItems(w, r, h.service)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))
	router.Use(trace.NewTraceMiddleware)

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
