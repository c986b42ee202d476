package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/pkg/database"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

// SettingsRepository implements repository.SettingsRepository using PostgreSQL.
// Preference maps and device tokens are stored as JSONB.
type SettingsRepository struct {
	pool database.DBTX
}

// NewSettingsRepository creates a new PostgreSQL-backed settings repository.
func NewSettingsRepository(pool database.DBTX) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get returns the settings for a recipient, or apperrors.ErrNotFound.
func (r *SettingsRepository) Get(ctx context.Context, recipientID string) (*domain.Settings, error) {
	query := `
		SELECT recipient_id, channels, categories, device_tokens, whatsapp_number, email,
		       quiet_hours, caps, last_sent_at, stats, created_at, updated_at
		FROM recipient_settings
		WHERE recipient_id = $1`

	var (
		s                domain.Settings
		channelsJSON     []byte
		categoriesJSON   []byte
		deviceTokensJSON []byte
		quietHoursJSON   []byte
		capsJSON         []byte
		statsJSON        []byte
	)

	err := r.pool.QueryRow(ctx, query, recipientID).Scan(
		&s.RecipientID,
		&channelsJSON,
		&categoriesJSON,
		&deviceTokensJSON,
		&s.WhatsAppNumber,
		&s.Email,
		&quietHoursJSON,
		&capsJSON,
		&s.LastSentAt,
		&statsJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}

	for _, field := range []struct {
		data []byte
		dst  any
	}{
		{channelsJSON, &s.Channels},
		{categoriesJSON, &s.Categories},
		{deviceTokensJSON, &s.DeviceTokens},
		{quietHoursJSON, &s.QuietHours},
		{capsJSON, &s.Caps},
		{statsJSON, &s.Stats},
	} {
		if field.data == nil {
			continue
		}
		if err := json.Unmarshal(field.data, field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal settings field: %w", err)
		}
	}

	return &s, nil
}

// Upsert inserts or replaces the settings row for a recipient.
func (r *SettingsRepository) Upsert(ctx context.Context, s *domain.Settings) error {
	channelsJSON, err := json.Marshal(s.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	categoriesJSON, err := json.Marshal(s.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	deviceTokensJSON, err := json.Marshal(s.DeviceTokens)
	if err != nil {
		return fmt.Errorf("marshal device tokens: %w", err)
	}
	quietHoursJSON, err := json.Marshal(s.QuietHours)
	if err != nil {
		return fmt.Errorf("marshal quiet hours: %w", err)
	}
	capsJSON, err := json.Marshal(s.Caps)
	if err != nil {
		return fmt.Errorf("marshal caps: %w", err)
	}
	statsJSON, err := json.Marshal(s.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	s.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO recipient_settings (recipient_id, channels, categories, device_tokens, whatsapp_number, email, quiet_hours, caps, last_sent_at, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (recipient_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			categories = EXCLUDED.categories,
			device_tokens = EXCLUDED.device_tokens,
			whatsapp_number = EXCLUDED.whatsapp_number,
			email = EXCLUDED.email,
			quiet_hours = EXCLUDED.quiet_hours,
			caps = EXCLUDED.caps,
			last_sent_at = EXCLUDED.last_sent_at,
			stats = EXCLUDED.stats,
			updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query,
		s.RecipientID,
		channelsJSON,
		categoriesJSON,
		deviceTokensJSON,
		s.WhatsAppNumber,
		s.Email,
		quietHoursJSON,
		capsJSON,
		s.LastSentAt,
		statsJSON,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}

	return nil
}
