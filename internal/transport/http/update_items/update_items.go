package updateitems

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
	ApplyItemDelta(ctx context.Context, restaurantID, orderID string, expectedVersion int64, delta order.ItemDelta) (order.Order, error)
}

// updateItemsRequest carries the version the caller read and an ordered
// list of item changes applied atomically. Per-change validation belongs
// to the delta itself, which rejects the whole list on the first bad
// change.
type updateItemsRequest struct {
	ExpectedVersion int64              `json:"expectedVersion" validate:"gt=0"`
	Changes         []order.ItemChange `json:"changes"         validate:"required,min=1"`
}

// Validate validates the update items request.
func (r *updateItemsRequest) Validate() error {
	return validator.New().Struct(r)
}

// UpdateItems handles the item delta request.
func UpdateItems(w http.ResponseWriter, r *http.Request, service service) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Unauthorized(w, "authentication required")
		return
	}

	orderID := chi.URLParam(r, "orderID")
	req := updateItemsRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid request body")
		slog.Error("Error decoding request body for item update", "order_id", orderID, "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		respond.BadRequest(w, err.Error())
		slog.Error("Error validating request body for item update", "order_id", orderID, "error", err)

		return
	}

	updated, err := service.ApplyItemDelta(r.Context(), identity.RestaurantID, orderID, req.ExpectedVersion, order.ItemDelta{Changes: req.Changes})
	if err != nil {
		respond.Err(w, err)
		slog.Error("Error applying item delta", "order_id", orderID, "error", err)

		return
	}

	respond.JSON(w, http.StatusOK, updated)
}
