package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/metrics"
)

// WebhookNotifier POSTs the popup as JSON to a configured endpoint
// (chat-ops integrations, custom dashboards).
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// WebhookConfig holds the webhook surface settings.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// webhookBody is the JSON sent to the endpoint.
type webhookBody struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	RecordID  string            `json:"record_id"`
	OrderID   string            `json:"order_id,omitempty"`
	Category  string            `json:"category"`
	Priority  int               `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewWebhookNotifier creates a webhook popup surface.
func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Notify POSTs one popup payload.
func (n *WebhookNotifier) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	title, body := Summary(rec)

	payload := webhookBody{
		Title:     title,
		Body:      body,
		RecordID:  rec.ID.String(),
		Category:  string(rec.Category),
		Priority:  rec.Priority,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
	}
	if rec.OrderID != nil {
		payload.OrderID = *rec.OrderID
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.RecordPopup(n.Channel(), false)
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordPopup(n.Channel(), false)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	metrics.RecordPopup(n.Channel(), true)
	n.logger.Debug("popup webhook delivered",
		zap.String("record_id", rec.ID.String()),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

// Channel identifies this notifier.
func (n *WebhookNotifier) Channel() string { return "webhook" }
