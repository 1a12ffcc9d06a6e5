package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mikeyoung304/expo-sync/internal/dal/interfaces/iorderrepo"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
)

// Repository keeps records in process memory. It backs single-node
// deployments and tests; durability comes from the postgres repository.
type Repository struct {
	mu      sync.RWMutex
	records map[string]iorderrepo.Record
}

func NewRepository() *Repository {
	return &Repository{records: make(map[string]iorderrepo.Record)}
}

func (r *Repository) Save(_ context.Context, rec iorderrepo.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Saves land outside the store lock and can arrive out of order; the
	// newest version wins, same as the postgres upsert guard.
	if known, ok := r.records[rec.Order.ID]; ok && known.Order.Version >= rec.Order.Version {
		return nil
	}
	rec.Order = rec.Order.Clone()
	r.records[rec.Order.ID] = rec
	return nil
}

func (r *Repository) Get(_ context.Context, restaurantID, orderID string) (iorderrepo.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[orderID]
	if !ok || rec.Order.RestaurantID != restaurantID {
		return iorderrepo.Record{}, order.ErrNotFound
	}
	rec.Order = rec.Order.Clone()
	return rec, nil
}

func (r *Repository) List(_ context.Context, restaurantID string, sinceSequence uint64) ([]iorderrepo.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]iorderrepo.Record, 0)
	for _, rec := range r.records {
		if rec.Order.RestaurantID != restaurantID || rec.Sequence <= sinceSequence {
			continue
		}
		rec.Order = rec.Order.Clone()
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (r *Repository) All(_ context.Context) ([]iorderrepo.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]iorderrepo.Record, 0, len(r.records))
	for _, rec := range r.records {
		rec.Order = rec.Order.Clone()
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(records []iorderrepo.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Sequence != records[j].Sequence {
			return records[i].Sequence < records[j].Sequence
		}
		return records[i].Order.ID < records[j].Order.ID
	})
}
