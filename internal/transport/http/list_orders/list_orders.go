package listorders

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/transport/http/respond"
	"github.com/mikeyoung304/expo-sync/internal/urgency"
)

type service interface {
	Snapshot(ctx context.Context, restaurantID string) ([]order.Order, uint64, error)
	ListSince(ctx context.Context, restaurantID string, sinceSequence uint64) ([]order.Order, error)
	CurrentSequence(restaurantID string) uint64
}

type listOrdersRequest struct {
	Statuses      []string `schema:"status"`
	SinceSequence uint64   `schema:"since_sequence"`
	Limit         int      `schema:"limit"`
}

func (q *listOrdersRequest) toQuery() (order.ListQuery, error) {
	statuses := make([]order.Status, 0, len(q.Statuses))
	for _, s := range q.Statuses {
		parsed, err := order.ParseStatus(s)
		if err != nil {
			return order.ListQuery{}, err
		}
		statuses = append(statuses, parsed)
	}
	query := order.ListQuery{
		Statuses:      statuses,
		SinceSequence: q.SinceSequence,
		Limit:         q.Limit,
	}
	if err := query.Validate(); err != nil {
		return order.ListQuery{}, err
	}
	return query, nil
}

// orderView decorates an order with the urgency computed at request time,
// so a plain polling client renders the same colors a live display does.
type orderView struct {
	order.Order
	Urgency urgency.Level    `json:"urgency"`
	Alert   urgency.Category `json:"alert,omitempty"`
}

type listOrdersResponse struct {
	Orders   []orderView `json:"orders"`
	Sequence uint64      `json:"sequence"`
}

// ListOrders handles the list orders request. Without since_sequence it
// returns the full board; with it, only orders written after that stream
// position. Both shapes carry the sequence the view is consistent with.
func ListOrders(w http.ResponseWriter, r *http.Request, service service, thresholds urgency.ThresholdSource) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Unauthorized(w, "authentication required")
		return
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	req := &listOrdersRequest{}
	if err := decoder.Decode(req, r.URL.Query()); err != nil {
		respond.BadRequest(w, "invalid query parameters")
		slog.Error("Error decoding request", "error", err)

		return
	}
	query, err := req.toQuery()
	if err != nil {
		respond.BadRequest(w, err.Error())
		slog.Error("Error validating list query", "error", err)

		return
	}

	var (
		orders   []order.Order
		sequence uint64
	)
	if query.SinceSequence > 0 {
		sequence = service.CurrentSequence(identity.RestaurantID)
		orders, err = service.ListSince(r.Context(), identity.RestaurantID, query.SinceSequence)
	} else {
		orders, sequence, err = service.Snapshot(r.Context(), identity.RestaurantID)
	}
	if err != nil {
		respond.Err(w, err)
		slog.Error("Error getting orders", "restaurant_id", identity.RestaurantID, "error", err)

		return
	}

	now := time.Now().UTC()
	tenantThresholds := thresholds(identity.RestaurantID)
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		if !query.MatchStatus(o) {
			continue
		}
		views = append(views, newOrderView(o, now, tenantThresholds))
		if query.Limit > 0 && len(views) == query.Limit {
			break
		}
	}

	respond.JSON(w, http.StatusOK, listOrdersResponse{Orders: views, Sequence: sequence})
}

func newOrderView(o order.Order, now time.Time, thresholds urgency.Thresholds) orderView {
	view := orderView{
		Order:   o,
		Urgency: urgency.ClassifyAge(now.Sub(o.CreatedAt), thresholds),
	}
	var modifiers []string
	for _, item := range o.Items {
		modifiers = append(modifiers, item.Modifiers...)
	}
	if c := urgency.ClassifyModifiers(modifiers); c != urgency.CategoryDefault {
		view.Alert = c
	}
	return view
}
