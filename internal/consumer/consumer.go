// Package consumer ingests domain events from collaborating subsystems and
// turns them into notification sends.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/service"
	"github.com/seefeesaw/afroverse-sub006/internal/targeting"
	pkgkafka "github.com/seefeesaw/afroverse-sub006/pkg/kafka"
)

// Topics consumed from other subsystems.
const (
	TopicBattleCompleted    = "afroverse.battle.completed"
	TopicStreakAtRisk       = "afroverse.streak.at_risk"
	TopicTribePointsAwarded = "afroverse.tribe.points_awarded"
	TopicChallengeCreated   = "afroverse.challenge.created"
)

// ConsumerGroupID for the notification service.
const ConsumerGroupID = "notification-service"

// idempotencyTTL is how long processed event IDs are remembered.
const idempotencyTTL = 24 * time.Hour

// BattleCompletedData is the payload of a battle.completed event.
type BattleCompletedData struct {
	BattleID     string `json:"battle_id"`
	WinnerID     string `json:"winner_id"`
	LoserID      string `json:"loser_id"`
	WinnerVotes  int    `json:"winner_votes"`
	LoserVotes   int    `json:"loser_votes"`
	CoinsAwarded int    `json:"coins_awarded"`
}

// StreakAtRiskData is the payload of a streak.at_risk event.
type StreakAtRiskData struct {
	UserID     string `json:"user_id"`
	StreakDays int    `json:"streak_days"`
	HoursLeft  int    `json:"hours_left"`
}

// TribePointsAwardedData is the payload of a tribe.points_awarded event.
type TribePointsAwardedData struct {
	TribeID string `json:"tribe_id"`
	Points  int    `json:"points"`
	Reason  string `json:"reason"`
}

// ChallengeCreatedData is the payload of a challenge.created event.
type ChallengeCreatedData struct {
	ChallengeID string `json:"challenge_id"`
	Name        string `json:"name"`
}

// NotificationSender is the slice of the dispatcher the consumer needs.
type NotificationSender interface {
	SendNotification(ctx context.Context, input *service.SendNotificationInput) (*domain.Notification, error)
	SendTargeted(ctx context.Context, refs []targeting.RuleRef, criteria targeting.Criteria, input *service.SendNotificationInput) ([]service.BulkResult, error)
}

var _ NotificationSender = (*service.NotificationService)(nil)

// Handler routes incoming Kafka events to notification sends.
type Handler struct {
	sender NotificationSender
	logger *slog.Logger
}

// NewHandler creates a new event handler.
func NewHandler(sender NotificationSender, logger *slog.Logger) *Handler {
	return &Handler{
		sender: sender,
		logger: logger,
	}
}

// Handle processes an incoming Kafka event based on its event type.
func (h *Handler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicBattleCompleted:
		return h.handleBattleCompleted(ctx, event)
	case TopicStreakAtRisk:
		return h.handleStreakAtRisk(ctx, event)
	case TopicTribePointsAwarded:
		return h.handleTribePointsAwarded(ctx, event)
	case TopicChallengeCreated:
		return h.handleChallengeCreated(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleBattleCompleted notifies both fighters of the result.
func (h *Handler) handleBattleCompleted(ctx context.Context, event *pkgkafka.Event) error {
	var data BattleCompletedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal battle.completed: %w", err)
	}
	if data.WinnerID == "" || data.LoserID == "" {
		return fmt.Errorf("battle.completed %s: missing fighter ids", event.EventID)
	}

	recipients := []struct {
		id      string
		outcome string
		votes   int
	}{
		{data.WinnerID, "won", data.WinnerVotes},
		{data.LoserID, "lost", data.LoserVotes},
	}

	for _, r := range recipients {
		_, err := h.sender.SendNotification(ctx, &service.SendNotificationInput{
			RecipientID: r.id,
			Type:        domain.NotificationTypeBattleResult,
			Channel:     domain.ChannelPush,
			Priority:    domain.NotificationPriorityHigh,
			Variables: map[string]string{
				"outcome": r.outcome,
				"votes":   strconv.Itoa(r.votes),
				"coins":   strconv.Itoa(data.CoinsAwarded),
			},
			Metadata: map[string]any{"battle_id": data.BattleID},
		})
		if err != nil {
			// One fighter's bad state must not block the other's result, so
			// send errors are logged rather than returned for redelivery.
			h.logger.ErrorContext(ctx, "battle result send failed",
				slog.String("event_id", event.EventID),
				slog.String("recipient_id", r.id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// handleStreakAtRisk sends an urgent streak reminder to one recipient.
func (h *Handler) handleStreakAtRisk(ctx context.Context, event *pkgkafka.Event) error {
	var data StreakAtRiskData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal streak.at_risk: %w", err)
	}
	if data.UserID == "" {
		return fmt.Errorf("streak.at_risk %s: missing user id", event.EventID)
	}

	_, err := h.sender.SendNotification(ctx, &service.SendNotificationInput{
		RecipientID: data.UserID,
		Type:        domain.NotificationTypeStreakReminder,
		Channel:     domain.ChannelPush,
		Priority:    domain.NotificationPriorityUrgent,
		Variables: map[string]string{
			"streak_days": strconv.Itoa(data.StreakDays),
			"hours_left":  strconv.Itoa(data.HoursLeft),
		},
	})
	if err != nil {
		return fmt.Errorf("streak reminder send: %w", err)
	}
	return nil
}

// handleTribePointsAwarded fans a points announcement out to tribe members.
func (h *Handler) handleTribePointsAwarded(ctx context.Context, event *pkgkafka.Event) error {
	var data TribePointsAwardedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal tribe.points_awarded: %w", err)
	}
	if data.TribeID == "" {
		return fmt.Errorf("tribe.points_awarded %s: missing tribe id", event.EventID)
	}

	_, err := h.sender.SendTargeted(ctx, nil,
		targeting.Criteria{Class: targeting.AudienceTribe, TribeID: data.TribeID},
		&service.SendNotificationInput{
			Type:     domain.NotificationTypeTribePoints,
			Channel:  domain.ChannelPush,
			Priority: domain.NotificationPriorityNormal,
			Variables: map[string]string{
				"points": strconv.Itoa(data.Points),
				"reason": data.Reason,
			},
			Metadata: map[string]any{"tribe_id": data.TribeID},
		})
	if err != nil {
		return fmt.Errorf("tribe points fan-out: %w", err)
	}
	return nil
}

// handleChallengeCreated announces a new challenge to active recipients.
func (h *Handler) handleChallengeCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data ChallengeCreatedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal challenge.created: %w", err)
	}

	_, err := h.sender.SendTargeted(ctx, nil,
		targeting.Criteria{Class: targeting.AudienceActive},
		&service.SendNotificationInput{
			Type:     domain.NotificationTypeDailyChallenge,
			Channel:  domain.ChannelPush,
			Priority: domain.NotificationPriorityNormal,
			Variables: map[string]string{
				"challenge": data.Name,
			},
			Metadata: map[string]any{"challenge_id": data.ChallengeID},
		})
	if err != nil {
		return fmt.Errorf("challenge fan-out: %w", err)
	}
	return nil
}

// NewConsumers creates one Kafka consumer per subscribed topic, each wrapped
// with idempotent delivery so redelivered events are processed once. Messages
// that exhaust their handler retries are parked on the shared DLQ producer,
// which the caller must close on shutdown.
func NewConsumers(brokers []string, handler *Handler, logger *slog.Logger) ([]*pkgkafka.Consumer, *pkgkafka.DLQProducer) {
	topics := []string{
		TopicBattleCompleted,
		TopicStreakAtRisk,
		TopicTribePointsAwarded,
		TopicChallengeCreated,
	}

	store := pkgkafka.NewMemoryIdempotencyStore(idempotencyTTL)
	handle := pkgkafka.IdempotentHandler(store, handler.Handle, logger)
	dlq := pkgkafka.NewDLQProducer(brokers, logger)

	consumers := make([]*pkgkafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		cfg := pkgkafka.ConsumerConfig{
			Brokers:  brokers,
			GroupID:  ConsumerGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			DLQ:      dlq,
		}
		consumers = append(consumers, pkgkafka.NewConsumer(cfg, handle, logger))
	}
	return consumers, dlq
}
