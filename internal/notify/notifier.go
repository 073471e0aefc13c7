// Package notify dispatches popup notifications for raised alerts to
// out-of-band surfaces: SMS via SNS, email via SES, or a webhook. These back
// the OS-popup capability; when none is configured the log notifier stands in.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/metrics"
)

// Notifier delivers one popup for a notification record.
type Notifier interface {
	Notify(ctx context.Context, rec *db.NotificationRecord) error
	Channel() string
}

// Summary renders the one-line human text for a record, used by every
// notifier implementation.
func Summary(rec *db.NotificationRecord) (title, body string) {
	number := rec.Metadata["order_number"]
	customer := rec.Metadata["customer_name"]
	amount := rec.Metadata["amount"]

	switch rec.Category {
	case db.CategoryOrderCreated:
		title = "New order"
	case db.CategoryOrderPaid, db.CategoryPaymentCompleted:
		title = "Order paid"
	case db.CategoryPaymentFailed:
		title = "Payment failed"
	case db.CategoryOrderCancelled:
		title = "Order cancelled"
	default:
		title = "Order updated"
	}

	body = fmt.Sprintf("Order %s", number)
	if customer != "" {
		body += " from " + customer
	}
	if amount != "" {
		body += " (" + amount + ")"
	}
	return title, body
}

// LogNotifier writes popups to the log. Default when no surface is wired.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the popup.
func (n *LogNotifier) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	title, body := Summary(rec)
	n.logger.Info("popup notification",
		zap.String("title", title),
		zap.String("body", body),
		zap.String("record_id", rec.ID.String()),
	)
	metrics.RecordPopup(n.Channel(), true)
	return nil
}

// Channel identifies this notifier.
func (n *LogNotifier) Channel() string { return "log" }

// MultiNotifier fans a popup out to every configured surface. A failing
// surface does not block the others; the first error is returned.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMultiNotifier combines notifiers.
func NewMultiNotifier(logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger,
	}
}

// Notify dispatches to every surface.
func (m *MultiNotifier) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, rec); err != nil {
			m.logger.Warn("popup surface failed",
				zap.String("channel", n.Channel()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", n.Channel(), err)
			}
		}
	}
	return firstErr
}

// Channel identifies this notifier.
func (m *MultiNotifier) Channel() string { return "multi" }
