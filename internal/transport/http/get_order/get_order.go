package getorder

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/transport/http/respond"
)

type service interface {
	Get(ctx context.Context, restaurantID, orderID string) (order.Order, error)
}

// GetOrder handles the get order request. Lookups are scoped to the
// authenticated restaurant, so another tenant's order id yields not found.
func GetOrder(w http.ResponseWriter, r *http.Request, service service) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Unauthorized(w, "authentication required")
		return
	}

	orderID := chi.URLParam(r, "orderID")
	o, err := service.Get(r.Context(), identity.RestaurantID, orderID)
	if err != nil {
		respond.Err(w, err)
		slog.Error("Error getting order", "order_id", orderID, "error", err)

		return
	}

	respond.JSON(w, http.StatusOK, o)
}
