package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/event"
	"github.com/seefeesaw/afroverse-sub006/internal/provider"
	"github.com/seefeesaw/afroverse-sub006/internal/repository"
	"github.com/seefeesaw/afroverse-sub006/internal/rules"
	"github.com/seefeesaw/afroverse-sub006/internal/targeting"
	"github.com/seefeesaw/afroverse-sub006/internal/template"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

// defaultBulkWorkers bounds concurrent sends during bulk fan-out.
const defaultBulkWorkers = 8

// NotificationService implements the business logic for notification operations.
type NotificationService struct {
	notifications repository.NotificationRepository
	settingsRepo  repository.SettingsRepository
	users         repository.UserRepository
	templates     *template.Store
	rules         *rules.Engine
	targeting     *targeting.Engine
	providers     map[string]provider.Provider
	producer      *event.Producer
	logger        *slog.Logger
	bulkWorkers   int
	now           func() time.Time
}

// NewNotificationService creates a new notification service.
func NewNotificationService(
	notifications repository.NotificationRepository,
	settingsRepo repository.SettingsRepository,
	users repository.UserRepository,
	templates *template.Store,
	rulesEngine *rules.Engine,
	targetingEngine *targeting.Engine,
	providers map[string]provider.Provider,
	producer *event.Producer,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		settingsRepo:  settingsRepo,
		users:         users,
		templates:     templates,
		rules:         rulesEngine,
		targeting:     targetingEngine,
		providers:     providers,
		producer:      producer,
		logger:        logger,
		bulkWorkers:   defaultBulkWorkers,
		now:           time.Now,
	}
}

// SendNotificationInput holds the parameters for sending a notification.
type SendNotificationInput struct {
	RecipientID string
	Type        string
	Channel     string
	Language    string
	Variables   map[string]string
	Priority    string
	DeepLink    string
	Metadata    map[string]any
}

// SendNotification runs the full dispatch pipeline for one recipient: load
// settings, apply the preference gate, render the template, persist the
// record, consult the rules engine, and hand the notification to the
// channel provider. Eligibility blocks are recorded as failed notifications
// and returned without an error; only invalid input and infrastructure
// problems surface as errors.
func (s *NotificationService) SendNotification(ctx context.Context, input *SendNotificationInput) (*domain.Notification, error) {
	if input.RecipientID == "" {
		return nil, apperrors.InvalidInput("recipient_id is required")
	}
	if input.Type == "" {
		return nil, apperrors.InvalidInput("type is required")
	}
	if !domain.IsValidType(input.Type) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid notification type %q", input.Type))
	}
	if input.Channel == "" {
		return nil, apperrors.InvalidInput("channel is required")
	}
	if !domain.IsValidChannel(input.Channel) {
		return nil, apperrors.InvalidInput("invalid channel: must be one of push, inapp, whatsapp, email")
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.NotificationPriorityNormal
	}
	if !domain.IsValidPriority(priority) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid priority %q", priority))
	}

	language := input.Language
	if language == "" {
		language = domain.DefaultLanguage
	}

	settings, err := s.getOrCreateSettings(ctx, input.RecipientID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	category := domain.CategoryForType(input.Type)

	// Each notification owns its metadata map. Bulk fan-outs share one input
	// across worker goroutines, and the pipeline writes per-recipient keys
	// into it below.
	metadata := make(map[string]any, len(input.Metadata)+2)
	for k, v := range input.Metadata {
		metadata[k] = v
	}

	notification := &domain.Notification{
		ID:          uuid.New().String(),
		RecipientID: input.RecipientID,
		Type:        input.Type,
		Channel:     input.Channel,
		DeepLink:    input.DeepLink,
		Status:      domain.NotificationStatusPending,
		Priority:    priority,
		Metadata:    metadata,
		MaxRetries:  domain.DefaultMaxRetries,
		ExpiresAt:   now.Add(domain.DefaultRetention),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Preference gate. Blocks are recorded for auditability but never retried.
	if gate := settings.ShouldSend(input.Channel, category, now); !gate.Allow {
		if err := s.notifications.Create(ctx, notification); err != nil {
			return nil, fmt.Errorf("create notification: %w", err)
		}
		s.markBlocked(ctx, notification, gate.Reason)
		return notification, nil
	}

	tpl, err := s.templates.Lookup(ctx, input.Type, input.Channel, language)
	if err != nil {
		return nil, fmt.Errorf("lookup template: %w", err)
	}
	if verrs := template.Validate(tpl, input.Variables); len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, verr := range verrs {
			msgs = append(msgs, verr.Error())
		}
		return nil, apperrors.InvalidInput(strings.Join(msgs, "; "))
	}
	rendered, err := template.Render(tpl, input.Variables)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	notification.Title = rendered.Title
	notification.Body = rendered.Body
	if notification.DeepLink == "" {
		notification.DeepLink = rendered.ActionURL
	}
	if rendered.ActionText != "" {
		notification.Metadata["action_label"] = rendered.ActionText
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	snapshot := s.snapshot(ctx, input.RecipientID)

	// Template applicability gate: a conditioned template only goes to the
	// segment it declares, independent of the per-type eligibility rules.
	if !tpl.AppliesTo(snapshot) {
		notification.Metadata["block_reason"] = domain.FailureReasonTemplateConditions
		s.markBlocked(ctx, notification, domain.FailureReasonTemplateConditions)
		return notification, nil
	}

	decision, err := s.rules.Evaluate(ctx, input.RecipientID, input.Type, snapshot, nil)
	if err != nil {
		// Counter store outage. The attempt stays retryable so the sweep can
		// re-run it once the store recovers.
		s.logger.ErrorContext(ctx, "rules evaluation failed",
			slog.String("notification_id", notification.ID),
			slog.String("error", err.Error()),
		)
		NotificationsFailed.WithLabelValues(notification.Type, notification.Channel).Inc()
		s.markFailed(ctx, notification, "rules_unavailable", true)
		return notification, nil
	}
	if !decision.Allowed {
		notification.Metadata["block_reason"] = decision.Reason
		s.markBlocked(ctx, notification, domain.FailureReasonBlockedByRules)
		return notification, nil
	}

	// Recipient-wide frequency caps, checked last so a cap slot is only
	// consumed by sends that passed every other gate. Transactional sends
	// bypass the caps just as they bypass quiet hours.
	if category != domain.CategoryTransactional {
		capsDecision, err := s.rules.ReserveRecipientCaps(ctx, input.RecipientID, settings.Caps.MaxPerHour, settings.Caps.MaxPerDay)
		if err != nil {
			s.logger.ErrorContext(ctx, "recipient cap check unavailable",
				slog.String("recipient_id", input.RecipientID),
				slog.String("error", err.Error()),
			)
			NotificationsFailed.WithLabelValues(notification.Type, notification.Channel).Inc()
			s.markFailed(ctx, notification, "rules_unavailable", true)
			return notification, nil
		}
		if !capsDecision.Allowed {
			notification.Metadata["block_reason"] = capsDecision.Reason
			s.markBlocked(ctx, notification, domain.FailureReasonBlockedByRules)
			return notification, nil
		}
	}

	if s.deliver(ctx, notification, settings) {
		s.templates.RecordUsage(ctx, tpl)
	}

	return notification, nil
}

// BulkResult reports the outcome of one recipient's send in a fan-out.
type BulkResult struct {
	RecipientID  string
	Notification *domain.Notification
	Err          error
}

// SendBulk dispatches the same notification to many recipients through a
// bounded worker pool. One recipient's failure never affects the others.
func (s *NotificationService) SendBulk(ctx context.Context, recipientIDs []string, input *SendNotificationInput) []BulkResult {
	results := make([]BulkResult, len(recipientIDs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.bulkWorkers)

	for i, recipientID := range recipientIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, recipientID string) {
			defer wg.Done()
			defer func() { <-sem }()

			perRecipient := *input
			perRecipient.RecipientID = recipientID
			notification, err := s.SendNotification(ctx, &perRecipient)
			results[i] = BulkResult{RecipientID: recipientID, Notification: notification, Err: err}
		}(i, recipientID)
	}
	wg.Wait()

	sent := 0
	for _, r := range results {
		if r.Err == nil && r.Notification != nil && r.Notification.Status == domain.NotificationStatusSent {
			sent++
		}
	}
	s.logger.InfoContext(ctx, "bulk send completed",
		slog.String("type", input.Type),
		slog.Int("recipients", len(recipientIDs)),
		slog.Int("sent", sent),
	)

	return results
}

// SendTargeted resolves an audience through the targeting engine and fans the
// notification out to every matched recipient.
func (s *NotificationService) SendTargeted(ctx context.Context, refs []targeting.RuleRef, criteria targeting.Criteria, input *SendNotificationInput) ([]BulkResult, error) {
	audience, err := s.targeting.GetUsers(ctx, refs, criteria)
	if err != nil {
		return nil, err
	}

	recipientIDs := make([]string, len(audience))
	for i, snapshot := range audience {
		recipientIDs[i] = snapshot.ID
	}

	return s.SendBulk(ctx, recipientIDs, input), nil
}

// GetNotification retrieves a notification by its ID.
func (s *NotificationService) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification by id: %w", err)
	}
	return notification, nil
}

// GetTemplate returns a single template by its unique name.
func (s *NotificationService) GetTemplate(ctx context.Context, name string) (*domain.Template, error) {
	if name == "" {
		return nil, apperrors.InvalidInput("template name is required")
	}
	return s.templates.GetByName(ctx, name)
}

// ListForRecipient returns a recipient's notifications, newest first.
func (s *NotificationService) ListForRecipient(ctx context.Context, recipientID string, filter repository.NotificationFilter, page, perPage int) ([]domain.Notification, int, error) {
	if recipientID == "" {
		return nil, 0, apperrors.InvalidInput("recipient_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	offset := (page - 1) * perPage

	notifications, total, err := s.notifications.ListByRecipient(ctx, recipientID, filter, offset, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications by recipient: %w", err)
	}

	return notifications, total, nil
}

// UnreadCount returns how many sent-or-delivered notifications the recipient
// has not read yet.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, err := s.notifications.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAsRead marks a notification as read on behalf of its recipient. It
// rejects reads of other recipients' notifications and records the read
// latency against the recipient's engagement stats.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, recipientID string) (*domain.Notification, error) {
	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification for mark as read: %w", err)
	}
	if notification.RecipientID != recipientID {
		return nil, apperrors.Forbidden("notification belongs to another recipient")
	}
	if notification.Status == domain.NotificationStatusRead {
		return notification, nil
	}
	if !domain.CanTransition(notification.Status, domain.NotificationStatusRead) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("cannot mark %s notification as read", notification.Status))
	}

	now := s.now().UTC()
	notification.Status = domain.NotificationStatusRead
	notification.ReadAt = &now
	notification.UpdatedAt = now

	if err := s.notifications.Update(ctx, notification); err != nil {
		return nil, fmt.Errorf("update notification: %w", err)
	}

	var latency float64
	if notification.SentAt != nil {
		latency = now.Sub(*notification.SentAt).Seconds()
	}

	if settings, err := s.settingsRepo.Get(ctx, recipientID); err == nil {
		settings.RecordRead(latency)
		if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
			s.logger.WarnContext(ctx, "failed to record read stats",
				slog.String("recipient_id", recipientID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.producer.PublishNotificationRead(ctx, notification, latency); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish notification.read event",
			slog.String("notification_id", notification.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "notification marked as read",
		slog.String("notification_id", notification.ID),
		slog.String("recipient_id", recipientID),
	)

	return notification, nil
}

// MarkAllAsRead marks every unread notification for the recipient as read
// and returns how many were affected.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, apperrors.InvalidInput("recipient_id is required")
	}

	count, err := s.notifications.MarkAllRead(ctx, recipientID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "marked all notifications read",
			slog.String("recipient_id", recipientID),
			slog.Int("count", count),
		)
	}

	return count, nil
}

// RetryFailed re-attempts failed notifications that still have retry budget,
// oldest first. Returns how many were successfully delivered this pass.
func (s *NotificationService) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	retryable, err := s.notifications.ListRetryable(ctx, domain.DefaultMaxRetries, limit)
	if err != nil {
		return 0, fmt.Errorf("list retryable notifications: %w", err)
	}

	delivered := 0
	for i := range retryable {
		notification := &retryable[i]

		// A concurrent sweep may have exhausted the row's retry budget
		// between the list query and this pass.
		if notification.IsTerminal() {
			continue
		}

		notification.Status = domain.NotificationStatusPending
		notification.UpdatedAt = s.now().UTC()
		if err := s.notifications.Update(ctx, notification); err != nil {
			s.logger.ErrorContext(ctx, "failed to reset notification for retry",
				slog.String("notification_id", notification.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		settings, err := s.getOrCreateSettings(ctx, notification.RecipientID)
		if err != nil {
			s.markFailed(ctx, notification, "settings_unavailable", true)
			continue
		}

		if s.deliver(ctx, notification, settings) {
			delivered++
		}
	}

	if len(retryable) > 0 {
		s.logger.InfoContext(ctx, "retry sweep completed",
			slog.Int("attempted", len(retryable)),
			slog.Int("delivered", delivered),
		)
	}

	return delivered, nil
}

// CleanupExpired deletes notifications past their retention window.
func (s *NotificationService) CleanupExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	deleted, err := s.notifications.DeleteExpired(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "expired notifications deleted",
			slog.Int("count", deleted),
		)
	}

	return deleted, nil
}

// deliver hands the notification to its channel provider and records the
// outcome. Returns true when the provider accepted it.
func (s *NotificationService) deliver(ctx context.Context, notification *domain.Notification, settings *domain.Settings) bool {
	prov, ok := s.providers[notification.Channel]
	if !ok {
		s.logger.ErrorContext(ctx, "no provider registered for channel",
			slog.String("channel", notification.Channel),
			slog.String("notification_id", notification.ID),
		)
		NotificationsFailed.WithLabelValues(notification.Type, notification.Channel).Inc()
		s.markFailed(ctx, notification, "no_provider", false)
		return false
	}

	res := prov.Send(ctx, notification, settings)

	settingsDirty := false
	for _, token := range res.InvalidTokens {
		if settings.RemoveDeviceToken(token) {
			settingsDirty = true
		}
	}

	if !res.Success {
		reason := "provider_rejected"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		s.logger.WarnContext(ctx, "provider failed to send notification",
			slog.String("notification_id", notification.ID),
			slog.String("channel", notification.Channel),
			slog.String("provider", prov.Name()),
			slog.Bool("retryable", res.Retryable),
			slog.String("reason", reason),
		)
		NotificationsFailed.WithLabelValues(notification.Type, notification.Channel).Inc()
		s.markFailed(ctx, notification, reason, res.Retryable)
		if settingsDirty {
			s.upsertSettings(ctx, settings)
		}
		return false
	}

	NotificationsSent.WithLabelValues(notification.Type, notification.Channel).Inc()

	now := s.now().UTC()
	notification.Status = domain.NotificationStatusSent
	notification.SentAt = &now
	notification.UpdatedAt = now
	notification.FailureReason = ""

	if err := s.notifications.Update(ctx, notification); err != nil {
		s.logger.ErrorContext(ctx, "failed to update notification status",
			slog.String("notification_id", notification.ID),
			slog.String("error", err.Error()),
		)
	}

	settings.RecordDelivered(now)
	s.upsertSettings(ctx, settings)

	if err := s.producer.PublishNotificationSent(ctx, notification, res.ProviderMessageID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish notification.sent event",
			slog.String("notification_id", notification.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "notification sent",
		slog.String("notification_id", notification.ID),
		slog.String("recipient_id", notification.RecipientID),
		slog.String("type", notification.Type),
		slog.String("channel", notification.Channel),
		slog.String("provider", prov.Name()),
	)

	return true
}

// markBlocked records an eligibility block as a terminal failed notification.
func (s *NotificationService) markBlocked(ctx context.Context, notification *domain.Notification, reason string) {
	NotificationsBlocked.WithLabelValues(notification.Type, reason).Inc()
	s.logger.InfoContext(ctx, "notification blocked",
		slog.String("notification_id", notification.ID),
		slog.String("recipient_id", notification.RecipientID),
		slog.String("type", notification.Type),
		slog.String("reason", reason),
	)
	s.markFailed(ctx, notification, reason, false)
}

// markFailed transitions the notification to failed. Non-retryable failures
// exhaust the retry budget so the sweep skips them.
func (s *NotificationService) markFailed(ctx context.Context, notification *domain.Notification, reason string, retryable bool) {
	notification.Status = domain.NotificationStatusFailed
	notification.FailureReason = reason
	notification.UpdatedAt = s.now().UTC()
	if retryable {
		notification.RetryCount++
	} else {
		notification.RetryCount = notification.MaxRetries
	}

	if err := s.notifications.Update(ctx, notification); err != nil {
		s.logger.ErrorContext(ctx, "failed to update notification status",
			slog.String("notification_id", notification.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishNotificationFailed(ctx, notification, retryable); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish notification.failed event",
			slog.String("notification_id", notification.ID),
			slog.String("error", err.Error()),
		)
	}
}

// snapshot fetches the recipient's profile for rules evaluation. Missing
// snapshots are tolerated; condition-based rules then block on their own.
func (s *NotificationService) snapshot(ctx context.Context, recipientID string) *domain.RecipientSnapshot {
	snapshot, err := s.users.GetSnapshot(ctx, recipientID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to load recipient snapshot",
				slog.String("recipient_id", recipientID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return snapshot
}

func (s *NotificationService) upsertSettings(ctx context.Context, settings *domain.Settings) {
	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		s.logger.WarnContext(ctx, "failed to persist settings",
			slog.String("recipient_id", settings.RecipientID),
			slog.String("error", err.Error()),
		)
	}
}
