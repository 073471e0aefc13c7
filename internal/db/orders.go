package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrOrderNotFound is returned when an order id does not exist.
var ErrOrderNotFound = errors.New("order not found")

// OrderStore reads orders for the alert pipeline. It never writes; the
// checkout flow is the only writer of the orders table.
type OrderStore struct {
	db     *DB
	logger *zap.Logger
}

// NewOrderStore creates a read-only store over the orders table.
func NewOrderStore(db *DB, logger *zap.Logger) *OrderStore {
	return &OrderStore{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `id, order_number, customer_name, total_amount, status, created_at`

// GetOrder retrieves a single order by id.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var o Order
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.TotalAmount,
		&o.Status,
		&o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	return &o, nil
}

// ListCreatedAfter returns orders inserted strictly after the given timestamp,
// oldest first. This is the reconciliation query: after a reconnect it replays
// everything the feed may have missed while the subscription was down.
func (s *OrderStore) ListCreatedAfter(ctx context.Context, after time.Time, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.db.Pool().Query(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders created after %s: %w", after.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID,
			&o.OrderNumber,
			&o.CustomerName,
			&o.TotalAmount,
			&o.Status,
			&o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	s.logger.Debug("reconciliation query completed",
		zap.Time("after", after),
		zap.Int("orders", len(orders)),
	)

	return orders, nil
}
