package transitionorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/transport/http/respond"
)

type service interface {
	Transition(ctx context.Context, restaurantID, orderID string, expectedVersion int64, next order.Status) (order.Order, error)
}

// transitionOrderRequest carries the version the caller read and the
// status it wants to move the order to.
type transitionOrderRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"gt=0"`
	Status          string `json:"status"          validate:"required"`
}

// Validate validates the transition order request.
func (r *transitionOrderRequest) Validate() error {
	return validator.New().Struct(r)
}

// TransitionOrder handles the status transition request. A stale version
// comes back as 409 with the current version; an illegal lifecycle step
// as 422.
func TransitionOrder(w http.ResponseWriter, r *http.Request, service service) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Unauthorized(w, "authentication required")
		return
	}

	orderID := chi.URLParam(r, "orderID")
	req := transitionOrderRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid request body")
		slog.Error("Error decoding request body for transition", "order_id", orderID, "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		respond.BadRequest(w, err.Error())
		slog.Error("Error validating request body for transition", "order_id", orderID, "error", err)

		return
	}

	next, err := order.ParseStatus(req.Status)
	if err != nil {
		respond.Err(w, err)
		slog.Error("Error parsing requested status", "order_id", orderID, "status", req.Status, "error", err)

		return
	}

	updated, err := service.Transition(r.Context(), identity.RestaurantID, orderID, req.ExpectedVersion, next)
	if err != nil {
		respond.Err(w, err)
		slog.Error("Error transitioning order", "order_id", orderID, "error", err)

		return
	}

	respond.JSON(w, http.StatusOK, updated)
}
