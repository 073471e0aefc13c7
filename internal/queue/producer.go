// Package queue exports alert lifecycle events to SQS for back-office
// integrations (fulfilment boards, analytics) that consume raised and
// acknowledged alerts asynchronously.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
)

// Config holds SQS settings.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the payload sent to SQS for one alert lifecycle event.
type Message struct {
	Event      string            `json:"event"` // alert.raised | alert.acknowledged
	RecordID   string            `json:"record_id"`
	OrderID    string            `json:"order_id,omitempty"`
	Category   string            `json:"category"`
	Priority   int               `json:"priority"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ExportedAt int64             `json:"exported_at"`
}

// Producer publishes alert events to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates an SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs alert exporter initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish sends one alert lifecycle event. Implements alert.Exporter.
func (p *Producer) Publish(ctx context.Context, event string, rec *db.NotificationRecord) error {
	msg := Message{
		Event:      event,
		RecordID:   rec.ID.String(),
		Category:   string(rec.Category),
		Priority:   rec.Priority,
		Metadata:   rec.Metadata,
		ExportedAt: time.Now().Unix(),
	}
	if rec.OrderID != nil {
		msg.OrderID = *rec.OrderID
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to export alert event",
			zap.Error(err),
			zap.String("event", event),
			zap.String("record_id", rec.ID.String()),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("alert event exported",
		zap.String("event", event),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}
