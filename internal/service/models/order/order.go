package order

import (
	"errors"
	"time"
)

var ErrInvalidDraft = errors.New("invalid order draft")

// Order represents one ticket owned by a single restaurant. Version increases
// by exactly one on every accepted mutation; writers carry the version they
// read and stale writes are rejected with *ConflictError.
type Order struct {
	ID           string     `json:"id"`
	RestaurantID string     `json:"restaurantId"`
	Status       Status     `json:"status"`
	Items        []LineItem `json:"items"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// LineItem represents a single line within an order.
type LineItem struct {
	Name           string   `json:"name"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unitPriceCents"`
	Modifiers      []string `json:"modifiers,omitempty"`
}

// Draft represents the payload accepted when creating an order.
type Draft struct {
	RestaurantID string     `json:"restaurantId"`
	Items        []LineItem `json:"items"`
}

// Validate checks that the draft can become an order.
func (d Draft) Validate() error {
	if d.RestaurantID == "" {
		return errors.New("restaurant id is required")
	}
	if len(d.Items) == 0 {
		return errors.New("order requires at least one item")
	}
	for _, item := range d.Items {
		if item.Name == "" {
			return errors.New("item name is required")
		}
		if item.Quantity <= 0 {
			return errors.New("item quantity must be positive")
		}
	}
	return nil
}

// Clone returns a deep copy so shared snapshots cannot alias the store's
// item slices.
func (o Order) Clone() Order {
	out := o
	out.Items = CloneItems(o.Items)
	return out
}

// TotalCents returns the order total across all line items.
func (o Order) TotalCents() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

// CloneItems deep-copies a line item slice, including modifier lists.
func CloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Modifiers != nil {
			mods := make([]string, len(out[i].Modifiers))
			copy(mods, out[i].Modifiers)
			out[i].Modifiers = mods
		}
	}
	return out
}
