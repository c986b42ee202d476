package domain

import (
	"time"
)

// Notification type constants. Each type corresponds to one campaign kind.
const (
	NotificationTypeStreakReminder    = "streak_reminder"
	NotificationTypeBattleChallenge   = "battle_challenge"
	NotificationTypeBattleResult      = "battle_result"
	NotificationTypeTribeAlert        = "tribe_alert"
	NotificationTypeTribePoints       = "tribe_points"
	NotificationTypeDailyChallenge    = "daily_challenge"
	NotificationTypeCoinEarned        = "coin_earned"
	NotificationTypeLeaderboardChange = "leaderboard_change"
	NotificationTypeReEngagement      = "re_engagement"
	NotificationTypeSystem            = "system"
)

// Notification channel constants.
const (
	ChannelPush     = "push"
	ChannelInApp    = "inapp"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// Notification status constants.
const (
	NotificationStatusPending   = "pending"
	NotificationStatusSent      = "sent"
	NotificationStatusDelivered = "delivered"
	NotificationStatusRead      = "read"
	NotificationStatusFailed    = "failed"
)

// Notification priority constants.
const (
	NotificationPriorityLow    = "low"
	NotificationPriorityNormal = "normal"
	NotificationPriorityHigh   = "high"
	NotificationPriorityUrgent = "urgent"
)

// Notification category constants. Categories drive per-recipient opt-in flags.
const (
	CategoryTransactional = "transactional"
	CategoryStreak        = "streak"
	CategoryBattle        = "battle"
	CategoryTribe         = "tribe"
	CategoryLeaderboard   = "leaderboard"
	CategoryLifecycle     = "lifecycle"
)

// FailureReasonBlockedByRules marks attempts that the rules engine rejected.
// Blocked attempts are recorded rather than silently dropped, for auditability.
const FailureReasonBlockedByRules = "blocked_by_rules"

// FailureReasonTemplateConditions marks attempts where the resolved template's
// targeting conditions excluded the recipient.
const FailureReasonTemplateConditions = "template_conditions"

// DefaultMaxRetries is the default maximum number of retry attempts.
const DefaultMaxRetries = 3

// DefaultRetention is how long a notification record is kept before the
// cleanup sweep may delete it.
const DefaultRetention = 7 * 24 * time.Hour

// Notification represents one delivery attempt to a recipient.
type Notification struct {
	ID            string         `json:"id"`
	RecipientID   string         `json:"recipient_id"`
	Type          string         `json:"type"`
	Channel       string         `json:"channel"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	DeepLink      string         `json:"deep_link,omitempty"`
	Status        string         `json:"status"`
	Priority      string         `json:"priority"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	ReadAt        *time.Time     `json:"read_at,omitempty"`
	ExpiresAt     time.Time      `json:"expires_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// statusRank orders the forward-only delivery states. failed is a side state
// reachable from pending or sent and is handled separately in CanTransition.
var statusRank = map[string]int{
	NotificationStatusPending:   0,
	NotificationStatusSent:      1,
	NotificationStatusDelivered: 2,
	NotificationStatusRead:      3,
}

// CanTransition reports whether a status change is allowed. Transitions are
// monotonic forward-only: a read notification never goes back to pending.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if to == NotificationStatusFailed {
		return from == NotificationStatusPending || from == NotificationStatusSent
	}
	if from == NotificationStatusFailed {
		// Retries re-enter the pipeline at pending.
		return to == NotificationStatusPending
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// IsTerminal reports whether the notification has reached a terminal state:
// read, or failed with retries exhausted.
func (n *Notification) IsTerminal() bool {
	if n.Status == NotificationStatusRead {
		return true
	}
	return n.Status == NotificationStatusFailed && n.RetryCount >= n.MaxRetries
}

// typeCategory maps each notification type to its opt-in category.
var typeCategory = map[string]string{
	NotificationTypeStreakReminder:    CategoryStreak,
	NotificationTypeBattleChallenge:   CategoryBattle,
	NotificationTypeBattleResult:      CategoryBattle,
	NotificationTypeTribeAlert:        CategoryTribe,
	NotificationTypeTribePoints:       CategoryTribe,
	NotificationTypeDailyChallenge:    CategoryLifecycle,
	NotificationTypeCoinEarned:        CategoryTransactional,
	NotificationTypeLeaderboardChange: CategoryLeaderboard,
	NotificationTypeReEngagement:      CategoryLifecycle,
	NotificationTypeSystem:            CategoryTransactional,
}

// CategoryForType returns the opt-in category for a notification type.
// Unknown types map to lifecycle, the least privileged category.
func CategoryForType(t string) string {
	if c, ok := typeCategory[t]; ok {
		return c
	}
	return CategoryLifecycle
}

// ValidTypes returns the set of valid notification types.
func ValidTypes() []string {
	return []string{
		NotificationTypeStreakReminder,
		NotificationTypeBattleChallenge,
		NotificationTypeBattleResult,
		NotificationTypeTribeAlert,
		NotificationTypeTribePoints,
		NotificationTypeDailyChallenge,
		NotificationTypeCoinEarned,
		NotificationTypeLeaderboardChange,
		NotificationTypeReEngagement,
		NotificationTypeSystem,
	}
}

// IsValidType checks whether the given type string is a valid notification type.
func IsValidType(t string) bool {
	_, ok := typeCategory[t]
	return ok
}

// ValidChannels returns the set of valid delivery channels.
func ValidChannels() []string {
	return []string{ChannelPush, ChannelInApp, ChannelWhatsApp, ChannelEmail}
}

// IsValidChannel checks whether the given channel string is a valid channel.
func IsValidChannel(channel string) bool {
	for _, c := range ValidChannels() {
		if c == channel {
			return true
		}
	}
	return false
}

// ValidCategories returns the set of opt-in notification categories.
func ValidCategories() []string {
	return []string{
		CategoryTransactional,
		CategoryStreak,
		CategoryBattle,
		CategoryTribe,
		CategoryLeaderboard,
		CategoryLifecycle,
	}
}

// IsValidCategory checks whether the given category string is a valid category.
func IsValidCategory(category string) bool {
	for _, c := range ValidCategories() {
		if c == category {
			return true
		}
	}
	return false
}

// ValidStatuses returns the set of valid notification statuses.
func ValidStatuses() []string {
	return []string{
		NotificationStatusPending,
		NotificationStatusSent,
		NotificationStatusDelivered,
		NotificationStatusRead,
		NotificationStatusFailed,
	}
}

// IsValidStatus checks whether the given status string is a valid notification status.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// ValidPriorities returns the set of valid notification priorities.
func ValidPriorities() []string {
	return []string{
		NotificationPriorityLow,
		NotificationPriorityNormal,
		NotificationPriorityHigh,
		NotificationPriorityUrgent,
	}
}

// IsValidPriority checks whether the given priority string is a valid notification priority.
func IsValidPriority(priority string) bool {
	for _, p := range ValidPriorities() {
		if p == priority {
			return true
		}
	}
	return false
}
