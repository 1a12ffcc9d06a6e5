package postgresrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mikeyoung304/expo-sync/internal/dal/interfaces/iorderrepo"
	"github.com/mikeyoung304/expo-sync/internal/dal/postgres"
	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
)

var orderColumns = []string{
	"id",
	"restaurant_id",
	"status",
	"items",
	"version",
	"last_sequence",
	"created_at",
	"updated_at",
}

// OrderDal represents order data access layer model.
type OrderDal struct {
	Id           string    `db:"id"`
	RestaurantId string    `db:"restaurant_id"`
	Status       string    `db:"status"`
	Items        []byte    `db:"items"`
	Version      int64     `db:"version"`
	LastSequence int64     `db:"last_sequence"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ToModel converts OrderDal to a repository record.
func (o *OrderDal) ToModel() (iorderrepo.Record, error) {
	status, err := order.ParseStatus(o.Status)
	if err != nil {
		return iorderrepo.Record{}, fmt.Errorf("failed to parse status: %w", err)
	}
	var items []order.LineItem
	if len(o.Items) > 0 {
		if err := json.Unmarshal(o.Items, &items); err != nil {
			return iorderrepo.Record{}, fmt.Errorf("failed to unmarshal items: %w", err)
		}
	}

	return iorderrepo.Record{
		Order: order.Order{
			ID:           o.Id,
			RestaurantID: o.RestaurantId,
			Status:       status,
			Items:        items,
			Version:      o.Version,
			CreatedAt:    o.CreatedAt,
			UpdatedAt:    o.UpdatedAt,
		},
		Sequence: uint64(o.LastSequence),
	}, nil
}

// OrderDalFromRecord converts a repository record to OrderDal.
func OrderDalFromRecord(rec iorderrepo.Record) (*OrderDal, error) {
	items := []byte("[]")
	if rec.Order.Items != nil {
		var err error
		items, err = json.Marshal(rec.Order.Items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal items: %w", err)
		}
	}

	return &OrderDal{
		Id:           rec.Order.ID,
		RestaurantId: rec.Order.RestaurantID,
		Status:       rec.Order.Status.String(),
		Items:        items,
		Version:      rec.Order.Version,
		LastSequence: int64(rec.Sequence),
		CreatedAt:    rec.Order.CreatedAt,
		UpdatedAt:    rec.Order.UpdatedAt,
	}, nil
}

// PostgresOrderRepository persists order records in PostgreSQL.
type PostgresOrderRepository struct {
	client *postgres.Client
}

// NewPostgresOrderRepository creates a new order repository.
func NewPostgresOrderRepository(client *postgres.Client) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		client: client,
	}
}

// Save upserts one order record. Write-through happens outside the store
// lock, so two saves of the same order can land out of order; the version
// guard keeps the newest row.
func (r *PostgresOrderRepository) Save(ctx context.Context, rec iorderrepo.Record) error {
	dal, err := OrderDalFromRecord(rec)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("orders").
		Columns(orderColumns...).
		Values(
			dal.Id,
			dal.RestaurantId,
			dal.Status,
			dal.Items,
			dal.Version,
			dal.LastSequence,
			dal.CreatedAt,
			dal.UpdatedAt,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
		WHERE orders.version < EXCLUDED.version`).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert query: %w", err)
	}

	if _, err := r.client.Pool().Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}

	return nil
}

// Get retrieves one order record scoped to a tenant.
func (r *PostgresOrderRepository) Get(ctx context.Context, restaurantID, orderID string) (iorderrepo.Record, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": orderID, "restaurant_id": restaurantID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return iorderrepo.Record{}, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return iorderrepo.Record{}, fmt.Errorf("failed to query order: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return iorderrepo.Record{}, err
	}
	if len(records) == 0 {
		return iorderrepo.Record{}, order.ErrNotFound
	}

	return records[0], nil
}

// List retrieves tenant records written after sinceSequence, oldest first.
func (r *PostgresOrderRepository) List(ctx context.Context, restaurantID string, sinceSequence uint64) ([]iorderrepo.Record, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"restaurant_id": restaurantID}).
		Where(sq.Gt{"last_sequence": int64(sinceSequence)}).
		OrderBy("last_sequence ASC", "id ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// All retrieves every record across tenants for warm start.
func (r *PostgresOrderRepository) All(ctx context.Context) ([]iorderrepo.Record, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		OrderBy("restaurant_id ASC", "last_sequence ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]iorderrepo.Record, error) {
	var result []iorderrepo.Record
	for rows.Next() {
		dal := OrderDal{}
		err := rows.Scan(
			&dal.Id,
			&dal.RestaurantId,
			&dal.Status,
			&dal.Items,
			&dal.Version,
			&dal.LastSequence,
			&dal.CreatedAt,
			&dal.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		rec, err := dal.ToModel()
		if err != nil {
			return nil, fmt.Errorf("failed to convert order dal to model: %w", err)
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
