// Package rules implements the per-(recipient, type) send eligibility gate:
// cooldowns, daily caps, time-of-day windows, and declarative conditions.
// Cooldown and daily-cap accounting lives behind CounterStore so the
// check-and-increment is a single atomic operation even across instances.
package rules

import (
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// Block reasons returned by the engine. These surface on blocked
// notifications for auditability.
const (
	ReasonCooldown          = "cooldown"
	ReasonDailyCap          = "daily_cap"
	ReasonHourlyCap         = "hourly_cap"
	ReasonRecipientDailyCap = "recipient_daily_cap"
	ReasonOutsideWindow     = "outside_window"
	ReasonCustom            = "custom_check"
)

// Window restricts sends of a type to a recipient-local time-of-day range.
// Windows that cross midnight (Start > End) match now >= Start OR now < End.
type Window struct {
	Start string // "09:00"
	End   string // "21:00"
}

// Conditions are the declarative per-type requirements a recipient snapshot
// must satisfy.
type Conditions struct {
	MinLevel              int
	RequireRecentActivity bool
	ActivityWindow        time.Duration
	RequireActiveStreak   bool
	MinStreakDays         int
	RequireTribe          bool
}

// Rule is the static eligibility configuration for one notification type.
type Rule struct {
	Type       string
	Cooldown   time.Duration
	MaxPerDay  int
	Window     *Window
	Conditions Conditions
}

// defaultActivityWindow is used when a rule requires recent activity but
// does not set its own window.
const defaultActivityWindow = 7 * 24 * time.Hour

// DefaultRules returns the shipped per-type configuration. Operators can
// override or extend it at runtime via Engine.AddRule.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:      domain.NotificationTypeStreakReminder,
			Cooldown:  20 * time.Hour,
			MaxPerDay: 1,
			Window:    &Window{Start: "18:00", End: "23:59"},
			Conditions: Conditions{
				RequireActiveStreak: true,
				MinStreakDays:       1,
			},
		},
		{
			Type:      domain.NotificationTypeBattleChallenge,
			Cooldown:  30 * time.Minute,
			MaxPerDay: 10,
			Conditions: Conditions{
				MinLevel:              2,
				RequireRecentActivity: true,
			},
		},
		{
			Type:      domain.NotificationTypeBattleResult,
			Cooldown:  0,
			MaxPerDay: 20,
		},
		{
			Type:      domain.NotificationTypeTribeAlert,
			Cooldown:  time.Hour,
			MaxPerDay: 5,
			Conditions: Conditions{
				RequireTribe: true,
			},
		},
		{
			Type:      domain.NotificationTypeTribePoints,
			Cooldown:  2 * time.Hour,
			MaxPerDay: 6,
			Conditions: Conditions{
				RequireTribe: true,
			},
		},
		{
			Type:      domain.NotificationTypeDailyChallenge,
			Cooldown:  20 * time.Hour,
			MaxPerDay: 1,
			Window:    &Window{Start: "07:00", End: "12:00"},
		},
		{
			Type:      domain.NotificationTypeCoinEarned,
			Cooldown:  0,
			MaxPerDay: 50,
		},
		{
			Type:      domain.NotificationTypeLeaderboardChange,
			Cooldown:  4 * time.Hour,
			MaxPerDay: 3,
			Conditions: Conditions{
				RequireRecentActivity: true,
			},
		},
		{
			Type:      domain.NotificationTypeReEngagement,
			Cooldown:  48 * time.Hour,
			MaxPerDay: 1,
			Window:    &Window{Start: "10:00", End: "20:00"},
		},
		{
			Type:      domain.NotificationTypeSystem,
			Cooldown:  0,
			MaxPerDay: 0, // uncapped
		},
	}
}
