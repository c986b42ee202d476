package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/repository"
	"github.com/seefeesaw/afroverse-sub006/pkg/database"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

const notificationColumns = `id, recipient_id, type, channel, title, body, deep_link, status, priority, metadata, failure_reason, retry_count, max_retries, sent_at, delivered_at, read_at, expires_at, created_at, updated_at`

// NotificationRepository implements repository.NotificationRepository using PostgreSQL.
type NotificationRepository struct {
	pool database.DBTX
}

// NewNotificationRepository creates a new PostgreSQL-backed notification repository.
func NewNotificationRepository(pool database.DBTX) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create inserts a new notification into the database.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = r.pool.Exec(ctx, query,
		n.ID,
		n.RecipientID,
		n.Type,
		n.Channel,
		n.Title,
		n.Body,
		n.DeepLink,
		n.Status,
		n.Priority,
		metadataJSON,
		n.FailureReason,
		n.RetryCount,
		n.MaxRetries,
		n.SentAt,
		n.DeliveredAt,
		n.ReadAt,
		n.ExpiresAt,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// GetByID retrieves a notification by its ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE id = $1`

	return r.scanNotification(ctx, query, id)
}

// Update modifies an existing notification in the database.
func (r *NotificationRepository) Update(ctx context.Context, n *domain.Notification) error {
	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	n.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE notifications
		SET status = $1, title = $2, body = $3, deep_link = $4, priority = $5,
		    metadata = $6, failure_reason = $7, retry_count = $8, max_retries = $9,
		    sent_at = $10, delivered_at = $11, read_at = $12, expires_at = $13, updated_at = $14
		WHERE id = $15`

	ct, err := r.pool.Exec(ctx, query,
		n.Status,
		n.Title,
		n.Body,
		n.DeepLink,
		n.Priority,
		metadataJSON,
		n.FailureReason,
		n.RetryCount,
		n.MaxRetries,
		n.SentAt,
		n.DeliveredAt,
		n.ReadAt,
		n.ExpiresAt,
		n.UpdatedAt,
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("notification", n.ID)
	}

	return nil
}

// ListByRecipient returns a recipient's notifications, newest first, with
// optional type/status/channel filters and pagination.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, filter repository.NotificationFilter, offset, limit int) ([]domain.Notification, int, error) {
	query := `
		SELECT ` + notificationColumns + `,
		       count(*) OVER() AS total_count
		FROM notifications
		WHERE recipient_id = $1`
	args := []any{recipientID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications by recipient: %w", err)
	}
	defer rows.Close()

	var totalCount int
	notifications := make([]domain.Notification, 0)

	for rows.Next() {
		n, metadataJSON, err := scanRow(rows, &totalCount)
		if err != nil {
			return nil, 0, err
		}
		if err := unmarshalMetadata(n, metadataJSON); err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notification rows: %w", err)
	}

	return notifications, totalCount, nil
}

// CountUnread returns how many delivered-but-unread notifications the recipient has.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	query := `
		SELECT count(*)
		FROM notifications
		WHERE recipient_id = $1 AND status IN ($2, $3)`

	var count int
	err := r.pool.QueryRow(ctx, query, recipientID, domain.NotificationStatusSent, domain.NotificationStatusDelivered).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAllRead transitions every unread notification for the recipient to read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	query := `
		UPDATE notifications
		SET status = $1, read_at = $2, updated_at = $2
		WHERE recipient_id = $3 AND status IN ($4, $5)`

	ct, err := r.pool.Exec(ctx, query,
		domain.NotificationStatusRead,
		at,
		recipientID,
		domain.NotificationStatusSent,
		domain.NotificationStatusDelivered,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// ListRetryable returns failed notifications with retry budget remaining, oldest first.
func (r *NotificationRepository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND retry_count < $2 AND failure_reason <> $3
		ORDER BY created_at ASC
		LIMIT $4`

	return r.scanNotifications(ctx, query, domain.NotificationStatusFailed, maxRetries, domain.FailureReasonBlockedByRules, limit)
}

// DeleteExpired removes notifications past their expiry instant, bounded per call.
func (r *NotificationRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	query := `
		DELETE FROM notifications
		WHERE id IN (
			SELECT id FROM notifications
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)`

	ct, err := r.pool.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// scanNotification is a helper that executes a query expected to return a single notification row.
func (r *NotificationRepository) scanNotification(ctx context.Context, query string, args ...any) (*domain.Notification, error) {
	var (
		n            domain.Notification
		metadataJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&n.ID,
		&n.RecipientID,
		&n.Type,
		&n.Channel,
		&n.Title,
		&n.Body,
		&n.DeepLink,
		&n.Status,
		&n.Priority,
		&metadataJSON,
		&n.FailureReason,
		&n.RetryCount,
		&n.MaxRetries,
		&n.SentAt,
		&n.DeliveredAt,
		&n.ReadAt,
		&n.ExpiresAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}

	if err := unmarshalMetadata(&n, metadataJSON); err != nil {
		return nil, err
	}

	return &n, nil
}

// scanNotifications is a helper that executes a query expected to return multiple notification rows.
func (r *NotificationRepository) scanNotifications(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0)

	for rows.Next() {
		n, metadataJSON, err := scanRow(rows, nil)
		if err != nil {
			return nil, err
		}
		if err := unmarshalMetadata(n, metadataJSON); err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}

	return notifications, nil
}

// scanRow scans one notification row. totalCount, when non-nil, expects the
// query to select a trailing count(*) OVER() column.
func scanRow(rows pgx.Rows, totalCount *int) (*domain.Notification, []byte, error) {
	var (
		n            domain.Notification
		metadataJSON []byte
	)

	dest := []any{
		&n.ID,
		&n.RecipientID,
		&n.Type,
		&n.Channel,
		&n.Title,
		&n.Body,
		&n.DeepLink,
		&n.Status,
		&n.Priority,
		&metadataJSON,
		&n.FailureReason,
		&n.RetryCount,
		&n.MaxRetries,
		&n.SentAt,
		&n.DeliveredAt,
		&n.ReadAt,
		&n.ExpiresAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	}
	if totalCount != nil {
		dest = append(dest, totalCount)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, nil, fmt.Errorf("scan notification row: %w", err)
	}

	return &n, metadataJSON, nil
}

func unmarshalMetadata(n *domain.Notification, metadataJSON []byte) error {
	if metadataJSON == nil {
		return nil
	}
	if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}
