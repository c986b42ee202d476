package domain

import (
	"time"
)

// Subscription tier constants.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// RecipientSnapshot is the read-only view of a user that targeting predicates
// and rule conditions evaluate against. Predicates must not mutate it.
type RecipientSnapshot struct {
	ID                string     `json:"id"`
	Level             int        `json:"level"`
	TribeID           string     `json:"tribe_id,omitempty"`
	Country           string     `json:"country,omitempty"`
	Timezone          string     `json:"timezone"`
	SubscriptionTier  string     `json:"subscription_tier"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	StreakDays        int        `json:"streak_days"`
	StreakSafeToday   bool       `json:"streak_safe_today"`
	VotesToday        int        `json:"votes_today"`
	LoginBonusClaimed bool       `json:"login_bonus_claimed"`
	IsActive          bool       `json:"is_active"`
}

// Location returns the recipient's time.Location, falling back to UTC when
// the stored timezone is missing or invalid.
func (s *RecipientSnapshot) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasActiveStreak reports whether the recipient has a streak going.
func (s *RecipientSnapshot) HasActiveStreak() bool {
	return s.StreakDays > 0
}

// RecentlyActive reports whether the recipient logged in within the window.
func (s *RecipientSnapshot) RecentlyActive(now time.Time, window time.Duration) bool {
	if s.LastLoginAt == nil {
		return false
	}
	return now.Sub(*s.LastLoginAt) <= window
}
