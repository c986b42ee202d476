package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// defaultBannerDuration applies to types without an explicit display time.
const defaultBannerDuration = 6 * time.Second

// bannerDurations are the per-type auto-dismiss times. Urgent competitive
// moments stay on screen longer than ambient reward toasts.
var bannerDurations = map[string]time.Duration{
	domain.NotificationTypeStreakReminder:  8 * time.Second,
	domain.NotificationTypeBattleChallenge: 10 * time.Second,
	domain.NotificationTypeBattleResult:    10 * time.Second,
	domain.NotificationTypeTribeAlert:      8 * time.Second,
	domain.NotificationTypeCoinEarned:      4 * time.Second,
	domain.NotificationTypeSystem:          15 * time.Second,
}

// Banner is one in-app notification surface. The client shows the head of a
// recipient's queue; ActionLabel/ActionURL drive the optional action button.
type Banner struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ActionLabel    string    `json:"action_label,omitempty"`
	ActionURL      string    `json:"action_url,omitempty"`
	ShownAt        time.Time `json:"shown_at"`
	DismissAt      time.Time `json:"dismiss_at"`
}

// InAppProvider keeps a per-recipient banner queue in memory. Exactly one
// banner is visible per recipient at a time; the next one starts its dismiss
// clock only once it becomes visible.
type InAppProvider struct {
	mu     sync.Mutex
	queues map[string][]*Banner
	now    func() time.Time
}

// NewInAppProvider creates an empty in-app banner provider.
func NewInAppProvider() *InAppProvider {
	return &InAppProvider{
		queues: make(map[string][]*Banner),
		now:    time.Now,
	}
}

// Name returns the channel this provider serves.
func (p *InAppProvider) Name() string {
	return domain.ChannelInApp
}

// Send enqueues a banner for the recipient. In-app delivery cannot fail
// transiently; the only failure is programmer error.
func (p *InAppProvider) Send(ctx context.Context, notification *domain.Notification, settings *domain.Settings) Result {
	if notification.RecipientID == "" {
		return terminal(fmt.Errorf("notification %s has no recipient", notification.ID))
	}

	banner := &Banner{
		ID:             uuid.NewString(),
		NotificationID: notification.ID,
		Type:           notification.Type,
		Title:          notification.Title,
		Body:           notification.Body,
		ActionURL:      notification.DeepLink,
	}
	if label, ok := notification.Metadata["action_label"].(string); ok {
		banner.ActionLabel = label
	}

	p.mu.Lock()
	queue := p.queues[notification.RecipientID]
	if len(queue) == 0 {
		p.start(banner)
	}
	p.queues[notification.RecipientID] = append(queue, banner)
	p.mu.Unlock()

	return success(banner.ID)
}

// Active returns the recipient's currently visible banner, advancing past any
// whose dismiss time has passed. Returns nil when nothing is showing.
func (p *InAppProvider) Active(recipientID string) *Banner {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.queues[recipientID]
	now := p.now()
	for len(queue) > 0 && !queue[0].DismissAt.IsZero() && !now.Before(queue[0].DismissAt) {
		queue = queue[1:]
		if len(queue) > 0 {
			p.start(queue[0])
		}
	}

	if len(queue) == 0 {
		delete(p.queues, recipientID)
		return nil
	}
	p.queues[recipientID] = queue
	return queue[0]
}

// Dismiss removes the identified banner ahead of its auto-dismiss time.
// Returns false when the banner is not queued, e.g. already dismissed.
func (p *InAppProvider) Dismiss(recipientID, bannerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.queues[recipientID]
	for i, b := range queue {
		if b.ID != bannerID {
			continue
		}
		queue = append(queue[:i], queue[i+1:]...)
		if i == 0 && len(queue) > 0 {
			p.start(queue[0])
		}
		if len(queue) == 0 {
			delete(p.queues, recipientID)
		} else {
			p.queues[recipientID] = queue
		}
		return true
	}
	return false
}

// QueueDepth reports how many banners a recipient has pending, for tests and
// operational introspection.
func (p *InAppProvider) QueueDepth(recipientID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[recipientID])
}

// start stamps a banner's visibility window as it reaches the queue head.
func (p *InAppProvider) start(b *Banner) {
	d, ok := bannerDurations[b.Type]
	if !ok {
		d = defaultBannerDuration
	}
	b.ShownAt = p.now()
	b.DismissAt = b.ShownAt.Add(d)
}
