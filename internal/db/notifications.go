package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Sentinel errors for notification record operations.
var (
	ErrRecordNotFound      = errors.New("notification record not found")
	ErrAlreadyAcknowledged = errors.New("notification record already acknowledged")
)

// NotificationStore is the single writer of notification records and the
// source of truth for "has this order already alerted". Every component reads
// acknowledgement state through it rather than caching a private copy.
type NotificationStore struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationStore creates a store over the notifications table.
func NewNotificationStore(db *DB, logger *zap.Logger) *NotificationStore {
	return &NotificationStore{
		db:     db,
		logger: logger,
	}
}

const recordColumns = `id, order_id, category, priority, acknowledged, metadata, created_at, acknowledged_at`

// Create inserts a notification record. The notifications table carries a
// unique index on (order_id, category), so a replayed event for an order that
// already alerted inserts nothing. Returns created=false in that case; the
// record itself is always returned.
func (s *NotificationStore) Create(ctx context.Context, rec *NotificationRecord) (created bool, err error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO notifications (id, order_id, category, priority, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, category) DO NOTHING
		RETURNING created_at
	`

	err = s.db.Pool().QueryRow(ctx, query,
		rec.ID,
		rec.OrderID,
		rec.Category,
		rec.Priority,
		rec.Metadata,
	).Scan(&rec.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: load the existing record so callers see its real state.
		existing, lookupErr := s.FindByOrderAndCategory(ctx, *rec.OrderID, rec.Category)
		if lookupErr != nil {
			return false, fmt.Errorf("load existing record: %w", lookupErr)
		}
		*rec = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert notification record: %w", err)
	}

	s.logger.Info("notification record created",
		zap.String("record_id", rec.ID.String()),
		zap.String("category", string(rec.Category)),
		zap.Int("priority", rec.Priority),
	)

	return true, nil
}

// Get retrieves a record by id.
func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*NotificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM notifications WHERE id = $1`
	return s.scanOne(s.db.Pool().QueryRow(ctx, query, id))
}

// FindByOrderAndCategory is the idempotence lookup: at most one record exists
// per (order, category) pair.
func (s *NotificationStore) FindByOrderAndCategory(ctx context.Context, orderID string, category Category) (*NotificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM notifications WHERE order_id = $1 AND category = $2`
	return s.scanOne(s.db.Pool().QueryRow(ctx, query, orderID, category))
}

// Acknowledge sets the acknowledged flag and stamps the acknowledgement time.
// Acknowledging an already-acknowledged record returns ErrAlreadyAcknowledged
// so callers can treat it as a no-op.
func (s *NotificationStore) Acknowledge(ctx context.Context, id uuid.UUID) (*NotificationRecord, error) {
	query := `
		UPDATE notifications
		SET acknowledged = TRUE, acknowledged_at = NOW()
		WHERE id = $1 AND acknowledged = FALSE
		RETURNING ` + recordColumns

	rec, err := s.scanOne(s.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, ErrRecordNotFound) {
		// Either missing or already acknowledged; disambiguate.
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Acknowledged {
			return existing, ErrAlreadyAcknowledged
		}
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("notification record acknowledged",
		zap.String("record_id", id.String()),
	)

	return rec, nil
}

// List returns records newest first, optionally only unacknowledged ones.
func (s *NotificationStore) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]*NotificationRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + recordColumns + ` FROM notifications`
	if unreadOnly {
		query += ` WHERE acknowledged = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notification records: %w", err)
	}
	defer rows.Close()

	var records []*NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.Category,
			&rec.Priority,
			&rec.Acknowledged,
			&rec.Metadata,
			&rec.CreatedAt,
			&rec.AcknowledgedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification records: %w", err)
	}

	return records, nil
}

// CountUnread returns the number of unacknowledged records, for the badge.
func (s *NotificationStore) CountUnread(ctx context.Context) (int, error) {
	var count int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE acknowledged = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread records: %w", err)
	}
	return count, nil
}

func (s *NotificationStore) scanOne(row pgx.Row) (*NotificationRecord, error) {
	var rec NotificationRecord
	err := row.Scan(
		&rec.ID,
		&rec.OrderID,
		&rec.Category,
		&rec.Priority,
		&rec.Acknowledged,
		&rec.Metadata,
		&rec.CreatedAt,
		&rec.AcknowledgedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification record: %w", err)
	}
	return &rec, nil
}
