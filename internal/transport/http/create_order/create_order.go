package createorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/transport/http/respond"
)

// service is an interface for the service layer.
type service interface {
	Create(ctx context.Context, draft order.Draft) (order.Order, error)
}

// itemInCreateOrderRequest represents an item in a create order request.
type itemInCreateOrderRequest struct {
	Name           string   `json:"name"           validate:"required"`
	Quantity       int      `json:"quantity"       validate:"gt=0"`
	UnitPriceCents int64    `json:"unitPriceCents" validate:"gte=0"`
	Modifiers      []string `json:"modifiers"`
}

// createOrderRequest represents a create order request.
type createOrderRequest struct {
	Items []itemInCreateOrderRequest `json:"items" validate:"required,min=1,dive"`
}

// Validate validates the create order request.
func (r *createOrderRequest) Validate() error {
	return validator.New().Struct(r)
}

// toDraft converts the request into an order draft owned by the given
// restaurant.
func (r *createOrderRequest) toDraft(restaurantID string) order.Draft {
	items := make([]order.LineItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = order.LineItem{
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			Modifiers:      item.Modifiers,
		}
	}
	return order.Draft{RestaurantID: restaurantID, Items: items}
}

// CreateOrder handles the create order request. The owning restaurant
// always comes from the authenticated identity, never from the body.
func CreateOrder(w http.ResponseWriter, r *http.Request, service service) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Unauthorized(w, "authentication required")
		return
	}

	req := createOrderRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid request body")
		slog.Error("Error decoding request body for create order", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		respond.BadRequest(w, err.Error())
		slog.Error("Error validating request body for create order", "error", err)

		return
	}

	created, err := service.Create(r.Context(), req.toDraft(identity.RestaurantID))
	if err != nil {
		respond.Err(w, err)
		slog.Error("Error creating order", "restaurant_id", identity.RestaurantID, "error", err)

		return
	}

	respond.JSON(w, http.StatusCreated, created)
}
