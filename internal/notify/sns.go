package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/metrics"
)

// SNSNotifier sends the popup as an SMS to the shop's on-call phone.
type SNSNotifier struct {
	client *sns.Client
	phone  string
	logger *zap.Logger
}

// SNSConfig holds the SMS surface settings.
type SNSConfig struct {
	Region string
	Phone  string // E.164 destination number
}

// NewSNSNotifier creates an SMS popup surface.
func NewSNSNotifier(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SNSNotifier{
		client: sns.NewFromConfig(awsCfg),
		phone:  cfg.Phone,
		logger: logger,
	}, nil
}

// Notify publishes one SMS for the record.
func (n *SNSNotifier) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	title, body := Summary(rec)

	input := &sns.PublishInput{
		PhoneNumber: aws.String(n.phone),
		Message:     aws.String(title + ": " + body),
	}

	result, err := n.client.Publish(ctx, input)
	if err != nil {
		metrics.RecordPopup(n.Channel(), false)
		return fmt.Errorf("sns publish failed: %w", err)
	}

	metrics.RecordPopup(n.Channel(), true)
	n.logger.Info("popup SMS sent",
		zap.String("record_id", rec.ID.String()),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

// Channel identifies this notifier.
func (n *SNSNotifier) Channel() string { return "sms" }
