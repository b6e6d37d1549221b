// Package events publishes billing lifecycle events to an SNS topic for
// downstream consumers (the dashboard, reporting). Publishing is best effort:
// the billing core never fails an operation because an event did not go out.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// Event types.
const (
	InvoiceCreated           = "invoice.created"
	PaymentCompleted         = "payment.completed"
	NotificationDeadLettered = "notification.dead_lettered"
)

// Event is the payload published for each billing lifecycle change.
type Event struct {
	Type           string `json:"type"`
	LeaseID        string `json:"lease_id,omitempty"`
	PaymentID      string `json:"payment_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	Amount         string `json:"amount,omitempty"`
	OccurredAt     int64  `json:"occurred_at"`
}

// Publisher sends events to a single SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the given topic.
func NewPublisher(ctx context.Context, topicARN, region string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("event publisher initialized", zap.String("topic_arn", topicARN))

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
		logger:   logger,
	}, nil
}

// Publish sends one event. Failures are logged, not propagated: callers
// treat events as fire-and-forget.
func (p *Publisher) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt == 0 {
		evt.OccurredAt = time.Now().Unix()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.Error(err), zap.String("type", evt.Type))
		return
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.Type),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		p.logger.Warn("failed to publish event",
			zap.Error(err),
			zap.String("type", evt.Type),
		)
		return
	}

	p.logger.Debug("event published",
		zap.String("type", evt.Type),
		zap.String("message_id", *result.MessageId),
	)
}
