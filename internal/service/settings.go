package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

// GetSettings returns the recipient's settings, creating the default row on
// first access.
func (s *NotificationService) GetSettings(ctx context.Context, recipientID string) (*domain.Settings, error) {
	if recipientID == "" {
		return nil, apperrors.InvalidInput("recipient_id is required")
	}
	return s.getOrCreateSettings(ctx, recipientID)
}

// UpdateSettingsInput holds partial settings changes. Nil fields are left
// untouched.
type UpdateSettingsInput struct {
	Channels       map[string]bool
	Categories     map[string]bool
	QuietHours     *domain.QuietHours
	Caps           *domain.FrequencyCaps
	WhatsAppNumber *string
	Email          *string
}

// UpdateSettings merges the given changes into the recipient's settings.
func (s *NotificationService) UpdateSettings(ctx context.Context, recipientID string, input *UpdateSettingsInput) (*domain.Settings, error) {
	if recipientID == "" {
		return nil, apperrors.InvalidInput("recipient_id is required")
	}

	settings, err := s.getOrCreateSettings(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	for channel, enabled := range input.Channels {
		if !domain.IsValidChannel(channel) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("invalid channel %q", channel))
		}
		settings.Channels[channel] = enabled
	}
	for category, enabled := range input.Categories {
		if !domain.IsValidCategory(category) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("invalid category %q", category))
		}
		settings.Categories[category] = enabled
	}

	if input.QuietHours != nil {
		if err := validateQuietHours(input.QuietHours); err != nil {
			return nil, err
		}
		settings.QuietHours = *input.QuietHours
	}
	if input.Caps != nil {
		if input.Caps.MaxPerHour < 0 || input.Caps.MaxPerDay < 0 {
			return nil, apperrors.InvalidInput("frequency caps must not be negative")
		}
		settings.Caps = *input.Caps
	}
	if input.WhatsAppNumber != nil {
		settings.WhatsAppNumber = *input.WhatsAppNumber
	}
	if input.Email != nil {
		settings.Email = *input.Email
	}

	settings.UpdatedAt = s.now().UTC()
	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("upsert settings: %w", err)
	}

	s.logger.InfoContext(ctx, "settings updated",
		slog.String("recipient_id", recipientID),
	)

	return settings, nil
}

// RegisterDeviceToken adds or refreshes a push destination for the recipient.
func (s *NotificationService) RegisterDeviceToken(ctx context.Context, recipientID, token, platform string) (*domain.Settings, error) {
	if recipientID == "" {
		return nil, apperrors.InvalidInput("recipient_id is required")
	}
	if token == "" {
		return nil, apperrors.InvalidInput("token is required")
	}
	switch platform {
	case domain.PlatformIOS, domain.PlatformAndroid, domain.PlatformWeb:
	default:
		return nil, apperrors.InvalidInput("invalid platform: must be one of ios, android, web")
	}

	settings, err := s.getOrCreateSettings(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	settings.AddDeviceToken(token, platform)
	settings.UpdatedAt = s.now().UTC()
	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("upsert settings: %w", err)
	}

	s.logger.InfoContext(ctx, "device token registered",
		slog.String("recipient_id", recipientID),
		slog.String("platform", platform),
	)

	return settings, nil
}

// RemoveDeviceToken unregisters a push destination.
func (s *NotificationService) RemoveDeviceToken(ctx context.Context, recipientID, token string) (*domain.Settings, error) {
	if recipientID == "" {
		return nil, apperrors.InvalidInput("recipient_id is required")
	}
	if token == "" {
		return nil, apperrors.InvalidInput("token is required")
	}

	settings, err := s.settingsRepo.Get(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	if !settings.RemoveDeviceToken(token) {
		return nil, apperrors.NotFound("device token", token)
	}

	settings.UpdatedAt = s.now().UTC()
	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("upsert settings: %w", err)
	}

	return settings, nil
}

// getOrCreateSettings loads the recipient's settings, falling back to the
// defaults on first access.
func (s *NotificationService) getOrCreateSettings(ctx context.Context, recipientID string) (*domain.Settings, error) {
	settings, err := s.settingsRepo.Get(ctx, recipientID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	settings = domain.NewSettings(recipientID)
	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}

	s.logger.DebugContext(ctx, "default settings created",
		slog.String("recipient_id", recipientID),
	)

	return settings, nil
}

func validateQuietHours(qh *domain.QuietHours) error {
	if !qh.Enabled {
		return nil
	}
	if !domain.IsValidClock(qh.Start) || !domain.IsValidClock(qh.End) {
		return apperrors.InvalidInput(`quiet hours must use "HH:MM" times`)
	}
	if qh.Timezone != "" {
		if _, err := time.LoadLocation(qh.Timezone); err != nil {
			return apperrors.InvalidInput(fmt.Sprintf("unknown timezone %q", qh.Timezone))
		}
	}
	return nil
}
