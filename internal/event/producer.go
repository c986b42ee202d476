package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/seefeesaw/afroverse-sub006/pkg/kafka"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// Kafka topics for notification domain events.
const (
	TopicNotificationSent   = "afroverse.notification.sent"
	TopicNotificationFailed = "afroverse.notification.failed"
	TopicNotificationRead   = "afroverse.notification.read"
)

// Aggregate type constant.
const AggregateTypeNotification = "notification"

// Source identifier for events originating from this service.
const SourceNotificationService = "notification-service"

// NotificationSentData is the payload for a notification.sent event.
type NotificationSentData struct {
	ID                string `json:"id"`
	RecipientID       string `json:"recipient_id"`
	Type              string `json:"type"`
	Channel           string `json:"channel"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// NotificationFailedData is the payload for a notification.failed event.
type NotificationFailedData struct {
	ID            string `json:"id"`
	RecipientID   string `json:"recipient_id"`
	Type          string `json:"type"`
	Channel       string `json:"channel"`
	FailureReason string `json:"failure_reason"`
	RetryCount    int    `json:"retry_count"`
	Retryable     bool   `json:"retryable"`
}

// NotificationReadData is the payload for a notification.read event.
type NotificationReadData struct {
	ID                 string  `json:"id"`
	RecipientID        string  `json:"recipient_id"`
	Type               string  `json:"type"`
	ReadLatencySeconds float64 `json:"read_latency_seconds"`
}

// Producer publishes notification domain events to Kafka. A nil kafka
// producer disables publishing, which keeps tests and local development
// broker-free.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishNotificationSent publishes a notification.sent event.
func (p *Producer) PublishNotificationSent(ctx context.Context, notification *domain.Notification, providerMessageID string) error {
	if p.kafka == nil {
		return nil
	}

	data := NotificationSentData{
		ID:                notification.ID,
		RecipientID:       notification.RecipientID,
		Type:              notification.Type,
		Channel:           notification.Channel,
		ProviderMessageID: providerMessageID,
	}

	event, err := pkgkafka.NewEvent(TopicNotificationSent, notification.ID, AggregateTypeNotification, SourceNotificationService, data)
	if err != nil {
		return fmt.Errorf("create notification.sent event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicNotificationSent, event); err != nil {
		return fmt.Errorf("publish notification.sent event: %w", err)
	}

	p.logger.DebugContext(ctx, "published notification.sent event",
		slog.String("notification_id", notification.ID),
	)

	return nil
}

// PublishNotificationFailed publishes a notification.failed event.
func (p *Producer) PublishNotificationFailed(ctx context.Context, notification *domain.Notification, retryable bool) error {
	if p.kafka == nil {
		return nil
	}

	data := NotificationFailedData{
		ID:            notification.ID,
		RecipientID:   notification.RecipientID,
		Type:          notification.Type,
		Channel:       notification.Channel,
		FailureReason: notification.FailureReason,
		RetryCount:    notification.RetryCount,
		Retryable:     retryable,
	}

	event, err := pkgkafka.NewEvent(TopicNotificationFailed, notification.ID, AggregateTypeNotification, SourceNotificationService, data)
	if err != nil {
		return fmt.Errorf("create notification.failed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicNotificationFailed, event); err != nil {
		return fmt.Errorf("publish notification.failed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published notification.failed event",
		slog.String("notification_id", notification.ID),
	)

	return nil
}

// PublishNotificationRead publishes a notification.read event.
func (p *Producer) PublishNotificationRead(ctx context.Context, notification *domain.Notification, readLatencySeconds float64) error {
	if p.kafka == nil {
		return nil
	}

	data := NotificationReadData{
		ID:                 notification.ID,
		RecipientID:        notification.RecipientID,
		Type:               notification.Type,
		ReadLatencySeconds: readLatencySeconds,
	}

	event, err := pkgkafka.NewEvent(TopicNotificationRead, notification.ID, AggregateTypeNotification, SourceNotificationService, data)
	if err != nil {
		return fmt.Errorf("create notification.read event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicNotificationRead, event); err != nil {
		return fmt.Errorf("publish notification.read event: %w", err)
	}

	p.logger.DebugContext(ctx, "published notification.read event",
		slog.String("notification_id", notification.ID),
	)

	return nil
}
