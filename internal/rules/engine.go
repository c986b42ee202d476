package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// Decision is the outcome of an eligibility evaluation. A blocked decision
// carries the first failing reason; it is not an error.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func block(reason string) Decision { return Decision{Reason: reason} }

// CustomCheck is an optional caller-supplied predicate evaluated after the
// declarative checks. Returning false blocks the send.
type CustomCheck func(snapshot *domain.RecipientSnapshot) bool

// Engine evaluates send eligibility per (recipient, notification type).
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]Rule
	counters CounterStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a rules engine with the default per-type rules loaded.
func NewEngine(counters CounterStore, logger *slog.Logger) *Engine {
	rules := make(map[string]Rule)
	for _, r := range DefaultRules() {
		rules[r.Type] = r
	}
	return &Engine{
		rules:    rules,
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
}

// AddRule registers or replaces the rule for a notification type at runtime,
// so new campaign types can be onboarded without redeploying.
func (e *Engine) AddRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.Type] = rule
}

// RemoveRule drops the rule for a type. Types without a rule are always allowed.
func (e *Engine) RemoveRule(notificationType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, notificationType)
}

// Rule returns the registered rule for a type, if any.
func (e *Engine) Rule(notificationType string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[notificationType]
	return r, ok
}

// Evaluate runs the eligibility checks in order: cooldown, daily cap,
// time-of-day window, declarative conditions, custom check. The first failing
// check short-circuits. Only when every check passes does the engine commit
// the cooldown timestamp and daily counter, atomically, so a blocked attempt
// never poisons the accounting.
//
// The daily-cap day boundary is the UTC calendar date; the time-of-day window
// is evaluated in the recipient's timezone.
func (e *Engine) Evaluate(ctx context.Context, recipientID, notificationType string, snapshot *domain.RecipientSnapshot, custom CustomCheck) (Decision, error) {
	rule, ok := e.Rule(notificationType)
	if !ok {
		return allow(), nil
	}

	now := e.now().UTC()

	// Read-only pass over cooldown and cap so their reasons are reported
	// ahead of window/condition failures, without committing anything.
	reason, err := e.counters.Check(ctx, recipientID, notificationType, rule.Cooldown, rule.MaxPerDay, now)
	if err != nil {
		return Decision{}, fmt.Errorf("check counters: %w", err)
	}
	if reason != "" {
		return e.blocked(ctx, recipientID, notificationType, reason), nil
	}

	if rule.Window != nil && !inWindow(rule.Window, snapshot, now) {
		return e.blocked(ctx, recipientID, notificationType, ReasonOutsideWindow), nil
	}

	if reason := checkConditions(rule.Conditions, snapshot, now); reason != "" {
		return e.blocked(ctx, recipientID, notificationType, reason), nil
	}

	if custom != nil && !custom(snapshot) {
		return e.blocked(ctx, recipientID, notificationType, ReasonCustom), nil
	}

	// Atomic check-and-commit. A concurrent send may have consumed the last
	// slot between Check and here; Reserve re-checks server-side.
	reason, err = e.counters.Reserve(ctx, recipientID, notificationType, rule.Cooldown, rule.MaxPerDay, now)
	if err != nil {
		return Decision{}, fmt.Errorf("reserve counters: %w", err)
	}
	if reason != "" {
		return e.blocked(ctx, recipientID, notificationType, reason), nil
	}

	return allow(), nil
}

// ReserveRecipientCaps enforces a recipient's own frequency caps, counted
// across all notification types. Caps of zero are uncapped. Like Evaluate's
// counters, the check-and-increment commits atomically.
func (e *Engine) ReserveRecipientCaps(ctx context.Context, recipientID string, maxPerHour, maxPerDay int) (Decision, error) {
	if maxPerHour <= 0 && maxPerDay <= 0 {
		return allow(), nil
	}

	reason, err := e.counters.ReserveRecipient(ctx, recipientID, maxPerHour, maxPerDay, e.now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("reserve recipient caps: %w", err)
	}
	if reason != "" {
		return e.blocked(ctx, recipientID, "all", reason), nil
	}
	return allow(), nil
}

func (e *Engine) blocked(ctx context.Context, recipientID, notificationType, reason string) Decision {
	e.logger.DebugContext(ctx, "notification blocked by rules",
		slog.String("recipient_id", recipientID),
		slog.String("type", notificationType),
		slog.String("reason", reason))
	return block(reason)
}

// inWindow evaluates the rule's time-of-day window in the recipient's
// timezone, with the same midnight-crossing semantics as quiet hours.
func inWindow(w *Window, snapshot *domain.RecipientSnapshot, now time.Time) bool {
	loc := time.UTC
	if snapshot != nil {
		loc = snapshot.Location()
	}
	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	start, ok := parseClock(w.Start)
	if !ok {
		return true
	}
	end, ok := parseClock(w.End)
	if !ok {
		return true
	}

	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// checkConditions returns "" when the snapshot satisfies every declared
// condition, or "condition_<name>" for the first unmet one. A nil snapshot
// fails any rule that declares conditions.
func checkConditions(c Conditions, snapshot *domain.RecipientSnapshot, now time.Time) string {
	declared := c.MinLevel > 0 || c.RequireRecentActivity || c.RequireActiveStreak || c.MinStreakDays > 0 || c.RequireTribe
	if !declared {
		return ""
	}
	if snapshot == nil {
		return "condition_no_snapshot"
	}

	if c.MinLevel > 0 && snapshot.Level < c.MinLevel {
		return "condition_min_level"
	}
	if c.RequireRecentActivity {
		window := c.ActivityWindow
		if window == 0 {
			window = defaultActivityWindow
		}
		if !snapshot.RecentlyActive(now, window) {
			return "condition_recent_activity"
		}
	}
	if c.RequireActiveStreak && !snapshot.HasActiveStreak() {
		return "condition_active_streak"
	}
	if c.MinStreakDays > 0 && snapshot.StreakDays < c.MinStreakDays {
		return "condition_min_streak_days"
	}
	if c.RequireTribe && snapshot.TribeID == "" {
		return "condition_tribe_membership"
	}
	return ""
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(v string) (int, bool) {
	if len(v) != 5 || v[2] != ':' {
		return 0, false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if v[i] < '0' || v[i] > '9' {
			return 0, false
		}
	}
	h := int(v[0]-'0')*10 + int(v[1]-'0')
	m := int(v[3]-'0')*10 + int(v[4]-'0')
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
