package order

import (
	"errors"
	"fmt"
)

// ItemOp represents one kind of change inside an item delta.
type ItemOp string

const (
	ItemOpAdd         ItemOp = "add"
	ItemOpRemove      ItemOp = "remove"
	ItemOpSetQuantity ItemOp = "set_quantity"
)

var (
	ErrEmptyDelta   = errors.New("item delta has no changes")
	ErrInvalidDelta = errors.New("invalid item delta")
	ErrUnknownItem  = errors.New("item delta references an unknown item")
)

// ItemChange represents a single operation within an item delta. Add carries
// the new item; remove and set_quantity address an existing item by name.
type ItemChange struct {
	Op       ItemOp    `json:"op"`
	Item     *LineItem `json:"item,omitempty"`
	Name     string    `json:"name,omitempty"`
	Quantity int       `json:"quantity,omitempty"`
}

// ItemDelta represents an ordered list of item changes applied atomically:
// either every change applies or none do.
type ItemDelta struct {
	Changes []ItemChange `json:"changes"`
}

// Apply returns the item list that results from applying the delta. The
// input slice is never modified; any error leaves it untouched.
func (d ItemDelta) Apply(items []LineItem) ([]LineItem, error) {
	if len(d.Changes) == 0 {
		return nil, ErrEmptyDelta
	}
	out := CloneItems(items)
	for _, change := range d.Changes {
		var err error
		out, err = change.apply(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c ItemChange) apply(items []LineItem) ([]LineItem, error) {
	switch c.Op {
	case ItemOpAdd:
		if c.Item == nil || c.Item.Name == "" {
			return nil, fmt.Errorf("%w: add requires an item with a name", ErrInvalidDelta)
		}
		if c.Item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: add requires a positive quantity", ErrInvalidDelta)
		}
		added := *c.Item
		added.Modifiers = append([]string(nil), c.Item.Modifiers...)
		return append(items, added), nil
	case ItemOpRemove:
		idx := indexOfItem(items, c.Name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownItem, c.Name)
		}
		return append(items[:idx], items[idx+1:]...), nil
	case ItemOpSetQuantity:
		if c.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidDelta)
		}
		idx := indexOfItem(items, c.Name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownItem, c.Name)
		}
		items[idx].Quantity = c.Quantity
		return items, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidDelta, c.Op)
	}
}

func indexOfItem(items []LineItem, name string) int {
	for i := range items {
		if items[i].Name == name {
			return i
		}
	}
	return -1
}
