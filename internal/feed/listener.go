// Package feed maintains the live order change feed: a LISTEN/NOTIFY
// subscription on the orders table with reconnect, backoff, and the
// reconciliation fetch that replays orders inserted while disconnected.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
)

// EventKind distinguishes feed events.
type EventKind string

const (
	KindInsert EventKind = "insert"
	KindUpdate EventKind = "update"
)

// Event is a normalized order change. OldStatus is empty for inserts and for
// synthetic events replayed by the reconciliation fetch.
type Event struct {
	Kind      EventKind
	Order     db.Order
	OldStatus string
}

// Listener is the transport under the subscription manager. The production
// implementation holds a dedicated Postgres connection; tests swap in a fake.
type Listener interface {
	// Listen establishes the subscription.
	Listen(ctx context.Context) error
	// WaitForEvent blocks until the next normalized event or a transport
	// error. It honors ctx cancellation and deadlines.
	WaitForEvent(ctx context.Context) (*Event, error)
	// Ping verifies the subscription connection is alive.
	Ping(ctx context.Context) error
	// Close releases the subscription.
	Close(ctx context.Context)
}

// notifyPayload is the JSON emitted by the order_events trigger.
type notifyPayload struct {
	Op        string   `json:"op"`
	OldStatus string   `json:"old_status,omitempty"`
	Record    db.Order `json:"record"`
}

// PGListener consumes pg_notify events on a dedicated pooled connection.
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
	logger  *zap.Logger

	conn *pgxpool.Conn
}

// NewPGListener creates a listener on the given notification channel.
func NewPGListener(pool *pgxpool.Pool, channel string, logger *zap.Logger) *PGListener {
	if channel == "" {
		channel = "order_events"
	}
	return &PGListener{
		pool:    pool,
		channel: channel,
		logger:  logger,
	}
}

// Listen acquires a connection and issues LISTEN. Any previously held
// connection is released first.
func (l *PGListener) Listen(ctx context.Context) error {
	l.Close(ctx)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		conn.Release()
		return fmt.Errorf("listen on %s: %w", l.channel, err)
	}

	l.conn = conn
	l.logger.Debug("listening for order events", zap.String("channel", l.channel))
	return nil
}

// WaitForEvent blocks for the next notification and normalizes it. Payloads
// that fail to parse are logged and skipped rather than tearing the feed down.
func (l *PGListener) WaitForEvent(ctx context.Context) (*Event, error) {
	if l.conn == nil {
		return nil, fmt.Errorf("listener not connected")
	}

	for {
		notification, err := l.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return nil, fmt.Errorf("wait for notification: %w", err)
		}

		evt, err := parseNotification(notification.Payload)
		if err != nil {
			l.logger.Warn("skipping feed payload", zap.Error(err))
			continue
		}
		return evt, nil
	}
}

// parseNotification decodes a trigger payload into an Event. The trigger may
// emit a slim record for oversized rows, so absent order fields are tolerated.
func parseNotification(raw string) (*Event, error) {
	var payload notifyPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}

	switch payload.Op {
	case "INSERT":
		return &Event{Kind: KindInsert, Order: payload.Record}, nil
	case "UPDATE":
		return &Event{Kind: KindUpdate, Order: payload.Record, OldStatus: payload.OldStatus}, nil
	default:
		return nil, fmt.Errorf("unknown feed op %q", payload.Op)
	}
}

// Ping checks the dedicated connection.
func (l *PGListener) Ping(ctx context.Context) error {
	if l.conn == nil {
		return fmt.Errorf("listener not connected")
	}
	return l.conn.Ping(ctx)
}

// Close releases the dedicated connection. Safe to call repeatedly.
func (l *PGListener) Close(ctx context.Context) {
	if l.conn == nil {
		return
	}
	// Best effort: the connection may already be broken.
	_, _ = l.conn.Exec(ctx, "UNLISTEN *")
	l.conn.Release()
	l.conn = nil
}
