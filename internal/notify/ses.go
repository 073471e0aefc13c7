package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/metrics"
)

// SESNotifier sends the popup as an email to the shop inbox.
type SESNotifier struct {
	client *ses.Client
	from   string
	to     string
	logger *zap.Logger
}

// SESConfig holds the email surface settings.
type SESConfig struct {
	Region    string
	FromEmail string
	ToEmail   string
}

// NewSESNotifier creates an email popup surface.
func NewSESNotifier(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SES: %w", err)
	}

	return &SESNotifier{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		to:     cfg.ToEmail,
		logger: logger,
	}, nil
}

// Notify sends one email for the record.
func (n *SESNotifier) Notify(ctx context.Context, rec *db.NotificationRecord) error {
	title, body := Summary(rec)

	input := &ses.SendEmailInput{
		Source: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: []string{n.to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		metrics.RecordPopup(n.Channel(), false)
		return fmt.Errorf("ses send failed: %w", err)
	}

	metrics.RecordPopup(n.Channel(), true)
	n.logger.Info("popup email sent",
		zap.String("record_id", rec.ID.String()),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

// Channel identifies this notifier.
func (n *SESNotifier) Channel() string { return "email" }
