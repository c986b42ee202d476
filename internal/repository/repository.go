package repository

import (
	"context"
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// NotificationFilter narrows notification list queries. Zero values mean
// "no restriction".
type NotificationFilter struct {
	Type    string
	Status  string
	Channel string
}

// NotificationRepository defines the interface for notification persistence operations.
type NotificationRepository interface {
	// Create inserts a new notification into the store.
	Create(ctx context.Context, notification *domain.Notification) error

	// GetByID retrieves a notification by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Notification, error)

	// Update modifies an existing notification in the store.
	Update(ctx context.Context, notification *domain.Notification) error

	// ListByRecipient returns a recipient's notifications, newest first,
	// optionally filtered, with pagination.
	ListByRecipient(ctx context.Context, recipientID string, filter NotificationFilter, offset, limit int) ([]domain.Notification, int, error)

	// CountUnread returns the number of sent-or-delivered notifications the
	// recipient has not read yet.
	CountUnread(ctx context.Context, recipientID string) (int, error)

	// MarkAllRead transitions every unread notification for the recipient to
	// read and returns how many rows changed.
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)

	// ListRetryable returns failed notifications with retry budget remaining,
	// oldest first, up to the given limit.
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]domain.Notification, error)

	// DeleteExpired removes notifications whose expiry instant has passed,
	// bounded by limit per call. Returns the number of rows deleted.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// TemplateRepository defines the interface for template persistence operations.
type TemplateRepository interface {
	// Create inserts a new template version.
	Create(ctx context.Context, template *domain.Template) error

	// Lookup returns the highest-version active template matching exactly
	// (type, channel, language), or ErrNotFound.
	Lookup(ctx context.Context, notificationType, channel, language string) (*domain.Template, error)

	// GetByName returns the highest-version active template with the given name.
	GetByName(ctx context.Context, name string) (*domain.Template, error)

	// RecordUsage increments the usage counter and stamps last-used.
	// Best effort: callers may ignore the error.
	RecordUsage(ctx context.Context, id string, at time.Time) error
}

// SettingsRepository defines the interface for recipient settings persistence.
type SettingsRepository interface {
	// Get returns the settings for a recipient, or ErrNotFound.
	Get(ctx context.Context, recipientID string) (*domain.Settings, error)

	// Upsert inserts or replaces the settings row for a recipient.
	Upsert(ctx context.Context, settings *domain.Settings) error
}

// UserRepository provides recipient snapshots for targeting and rule
// evaluation. The engine only reads through this interface; the user store
// itself belongs to a collaborating subsystem.
type UserRepository interface {
	// GetSnapshot returns the targeting snapshot for one recipient.
	GetSnapshot(ctx context.Context, recipientID string) (*domain.RecipientSnapshot, error)

	// ListActive returns snapshots of accounts that logged in since the cutoff.
	ListActive(ctx context.Context, since time.Time, limit int) ([]domain.RecipientSnapshot, error)

	// ListInactive returns snapshots of accounts with no login since the cutoff.
	ListInactive(ctx context.Context, since time.Time, limit int) ([]domain.RecipientSnapshot, error)

	// ListByTribe returns snapshots of one tribe's members.
	ListByTribe(ctx context.Context, tribeID string, limit int) ([]domain.RecipientSnapshot, error)

	// ListAll returns snapshots of every active account.
	ListAll(ctx context.Context, limit int) ([]domain.RecipientSnapshot, error)

	// ListCustom returns snapshots matching an arbitrary id/tribe/tier filter.
	ListCustom(ctx context.Context, ids, tribes, tiers []string, limit int) ([]domain.RecipientSnapshot, error)
}
