// Package mock provides a configurable in-memory channel provider for local
// development and orchestrator tests.
package mock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/provider"
)

// Provider logs every send and succeeds unless a failure has been scripted.
type Provider struct {
	channel string
	logger  *slog.Logger

	mu       sync.Mutex
	sent     []*domain.Notification
	failures map[string]provider.Result // recipient id -> scripted outcome
}

// NewProvider creates a mock provider for the given channel.
func NewProvider(channel string, logger *slog.Logger) *Provider {
	return &Provider{
		channel:  channel,
		logger:   logger,
		failures: make(map[string]provider.Result),
	}
}

// Name returns the channel this provider serves.
func (p *Provider) Name() string {
	return p.channel
}

// FailFor scripts the outcome returned for a recipient's next sends.
func (p *Provider) FailFor(recipientID string, result provider.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[recipientID] = result
}

// Sent returns the notifications delivered so far, in order.
func (p *Provider) Sent() []*domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.Notification, len(p.sent))
	copy(out, p.sent)
	return out
}

// Send records the notification and returns the scripted outcome, or success.
func (p *Provider) Send(ctx context.Context, notification *domain.Notification, _ *domain.Settings) provider.Result {
	p.mu.Lock()
	if result, ok := p.failures[notification.RecipientID]; ok {
		p.mu.Unlock()
		return result
	}
	p.sent = append(p.sent, notification)
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "mock provider delivered notification",
		slog.String("notification_id", notification.ID),
		slog.String("recipient_id", notification.RecipientID),
		slog.String("channel", p.channel),
		slog.String("type", notification.Type),
	)

	return provider.Result{Success: true, ProviderMessageID: "mock-" + uuid.NewString()}
}

var _ provider.Provider = (*Provider)(nil)
