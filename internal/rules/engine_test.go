package rules

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewMemoryCounterStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fixClock pins the engine's clock to a deterministic instant.
func fixClock(e *Engine, at time.Time) {
	e.now = func() time.Time { return at }
}

func activeSnapshot() *domain.RecipientSnapshot {
	lastLogin := time.Now().UTC().Add(-2 * time.Hour)
	return &domain.RecipientSnapshot{
		ID:          "user-1",
		Level:       5,
		TribeID:     "tribe-yoruba",
		Timezone:    "UTC",
		LastLoginAt: &lastLogin,
		StreakDays:  4,
		IsActive:    true,
	}
}

func TestEngine_Evaluate_NoRuleAlwaysAllowed(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), "user-1", "unregistered_type", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestEngine_Evaluate_Cooldown(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "test_type", Cooldown: time.Hour})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixClock(engine, base)

	decision, err := engine.Evaluate(context.Background(), "user-1", "test_type", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Immediately after a committed send the cooldown blocks.
	decision, err = engine.Evaluate(context.Background(), "user-1", "test_type", nil, nil)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonCooldown, decision.Reason)

	// Still inside the cooldown window.
	fixClock(engine, base.Add(59*time.Minute))
	decision, err = engine.Evaluate(context.Background(), "user-1", "test_type", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, decision.Reason)

	// Past the cooldown the send goes through again.
	fixClock(engine, base.Add(61*time.Minute))
	decision, err = engine.Evaluate(context.Background(), "user-1", "test_type", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_Evaluate_CooldownIsPerRecipientAndType(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "type_a", Cooldown: time.Hour})
	engine.AddRule(Rule{Type: "type_b", Cooldown: time.Hour})
	fixClock(engine, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	decision, err := engine.Evaluate(context.Background(), "user-1", "type_a", nil, nil)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// A different type for the same user is unaffected.
	decision, err = engine.Evaluate(context.Background(), "user-1", "type_b", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Same type for a different user is unaffected.
	decision, err = engine.Evaluate(context.Background(), "user-2", "type_a", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_Evaluate_DailyCapExact(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "capped", MaxPerDay: 3})
	fixClock(engine, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		decision, err := engine.Evaluate(context.Background(), "user-1", "capped", nil, nil)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "send %d should be under the cap", i+1)
	}

	decision, err := engine.Evaluate(context.Background(), "user-1", "capped", nil, nil)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonDailyCap, decision.Reason)
}

func TestEngine_Evaluate_DailyCapResetsAtUTCDayBoundary(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "capped", MaxPerDay: 1})

	fixClock(engine, time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC))
	decision, err := engine.Evaluate(context.Background(), "user-1", "capped", nil, nil)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = engine.Evaluate(context.Background(), "user-1", "capped", nil, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonDailyCap, decision.Reason)

	// Next UTC day the counter starts fresh.
	fixClock(engine, time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC))
	decision, err = engine.Evaluate(context.Background(), "user-1", "capped", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_Evaluate_Window(t *testing.T) {
	tests := []struct {
		name    string
		window  Window
		tz      string
		utcHour int
		allowed bool
	}{
		{
			name:    "inside plain window",
			window:  Window{Start: "09:00", End: "21:00"},
			tz:      "UTC",
			utcHour: 12,
			allowed: true,
		},
		{
			name:    "outside plain window",
			window:  Window{Start: "09:00", End: "21:00"},
			tz:      "UTC",
			utcHour: 22,
			allowed: false,
		},
		{
			name:    "midnight-crossing window before midnight",
			window:  Window{Start: "22:00", End: "02:00"},
			tz:      "UTC",
			utcHour: 23,
			allowed: true,
		},
		{
			name:    "midnight-crossing window after midnight",
			window:  Window{Start: "22:00", End: "02:00"},
			tz:      "UTC",
			utcHour: 1,
			allowed: true,
		},
		{
			name:    "midnight-crossing window midday",
			window:  Window{Start: "22:00", End: "02:00"},
			tz:      "UTC",
			utcHour: 12,
			allowed: false,
		},
		{
			// 12:00 UTC is 13:00 in Lagos (UTC+1), inside a 12:30-14:00 window.
			name:    "window evaluated in recipient timezone",
			window:  Window{Start: "12:30", End: "14:00"},
			tz:      "Africa/Lagos",
			utcHour: 12,
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t)
			engine.AddRule(Rule{Type: "windowed", Window: &tt.window})
			fixClock(engine, time.Date(2025, 6, 1, tt.utcHour, 0, 0, 0, time.UTC))

			snapshot := &domain.RecipientSnapshot{ID: "user-1", Timezone: tt.tz}
			decision, err := engine.Evaluate(context.Background(), "user-1", "windowed", snapshot, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.Equal(t, ReasonOutsideWindow, decision.Reason)
			}
		})
	}
}

func TestEngine_Evaluate_Conditions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	staleLogin := now.Add(-30 * 24 * time.Hour)

	tests := []struct {
		name       string
		conditions Conditions
		mutate     func(s *domain.RecipientSnapshot)
		reason     string
	}{
		{
			name:       "min level unmet",
			conditions: Conditions{MinLevel: 10},
			mutate:     func(s *domain.RecipientSnapshot) { s.Level = 3 },
			reason:     "condition_min_level",
		},
		{
			name:       "recent activity unmet",
			conditions: Conditions{RequireRecentActivity: true},
			mutate:     func(s *domain.RecipientSnapshot) { s.LastLoginAt = &staleLogin },
			reason:     "condition_recent_activity",
		},
		{
			name:       "active streak unmet",
			conditions: Conditions{RequireActiveStreak: true},
			mutate:     func(s *domain.RecipientSnapshot) { s.StreakDays = 0 },
			reason:     "condition_active_streak",
		},
		{
			name:       "min streak days unmet",
			conditions: Conditions{MinStreakDays: 7},
			mutate:     func(s *domain.RecipientSnapshot) { s.StreakDays = 4 },
			reason:     "condition_min_streak_days",
		},
		{
			name:       "tribe membership unmet",
			conditions: Conditions{RequireTribe: true},
			mutate:     func(s *domain.RecipientSnapshot) { s.TribeID = "" },
			reason:     "condition_tribe_membership",
		},
		{
			name: "all conditions met",
			conditions: Conditions{
				MinLevel:              3,
				RequireRecentActivity: true,
				RequireActiveStreak:   true,
				RequireTribe:          true,
			},
			mutate: func(s *domain.RecipientSnapshot) {},
			reason: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t)
			engine.AddRule(Rule{Type: "conditional", Conditions: tt.conditions})
			fixClock(engine, now)

			recentLogin := now.Add(-2 * time.Hour)
			snapshot := &domain.RecipientSnapshot{
				ID:          "user-1",
				Level:       5,
				TribeID:     "tribe-yoruba",
				Timezone:    "UTC",
				LastLoginAt: &recentLogin,
				StreakDays:  4,
				IsActive:    true,
			}
			tt.mutate(snapshot)

			decision, err := engine.Evaluate(context.Background(), "user-1", "conditional", snapshot, nil)
			require.NoError(t, err)
			if tt.reason == "" {
				assert.True(t, decision.Allowed)
			} else {
				assert.False(t, decision.Allowed)
				assert.Equal(t, tt.reason, decision.Reason)
			}
		})
	}
}

func TestEngine_Evaluate_NilSnapshotFailsDeclaredConditions(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "conditional", Conditions: Conditions{MinLevel: 1}})
	fixClock(engine, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	decision, err := engine.Evaluate(context.Background(), "user-1", "conditional", nil, nil)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "condition_no_snapshot", decision.Reason)
}

func TestEngine_Evaluate_CustomCheck(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "custom", MaxPerDay: 5})
	fixClock(engine, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	blockAll := func(*domain.RecipientSnapshot) bool { return false }
	decision, err := engine.Evaluate(context.Background(), "user-1", "custom", activeSnapshot(), blockAll)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonCustom, decision.Reason)

	allowAll := func(*domain.RecipientSnapshot) bool { return true }
	decision, err = engine.Evaluate(context.Background(), "user-1", "custom", activeSnapshot(), allowAll)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_Evaluate_BlockedAttemptDoesNotConsumeBudget(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{
		Type:      "windowed",
		MaxPerDay: 1,
		Window:    &Window{Start: "09:00", End: "21:00"},
	})
	snapshot := &domain.RecipientSnapshot{ID: "user-1", Timezone: "UTC"}

	// Blocked by the window; the daily counter must not move.
	fixClock(engine, time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC))
	decision, err := engine.Evaluate(context.Background(), "user-1", "windowed", snapshot, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonOutsideWindow, decision.Reason)

	// Inside the window the full budget is still available.
	fixClock(engine, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	decision, err = engine.Evaluate(context.Background(), "user-1", "windowed", snapshot, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_Evaluate_CooldownReportedBeforeWindow(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{
		Type:     "ordered",
		Cooldown: time.Hour,
		Window:   &Window{Start: "09:00", End: "21:00"},
	})
	snapshot := &domain.RecipientSnapshot{ID: "user-1", Timezone: "UTC"}

	fixClock(engine, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	decision, err := engine.Evaluate(context.Background(), "user-1", "ordered", snapshot, nil)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Now both the cooldown and the window would block; the cooldown wins.
	fixClock(engine, time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC))
	engine.AddRule(Rule{
		Type:     "ordered",
		Cooldown: time.Hour,
		Window:   &Window{Start: "22:00", End: "23:00"},
	})
	decision, err = engine.Evaluate(context.Background(), "user-1", "ordered", snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, decision.Reason)
}

func TestEngine_Evaluate_ConcurrentSendsRespectCap(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(Rule{Type: "capped", MaxPerDay: 5})
	fixClock(engine, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := engine.Evaluate(context.Background(), "user-1", "capped", nil, nil)
			if err != nil {
				return
			}
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed, "exactly the cap's worth of sends must go through")
}

func TestEngine_AddAndRemoveRule(t *testing.T) {
	engine := newTestEngine(t)
	fixClock(engine, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	engine.AddRule(Rule{Type: "transient", MaxPerDay: 1})
	rule, ok := engine.Rule("transient")
	require.True(t, ok)
	assert.Equal(t, 1, rule.MaxPerDay)

	decision, err := engine.Evaluate(context.Background(), "user-1", "transient", nil, nil)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	decision, err = engine.Evaluate(context.Background(), "user-1", "transient", nil, nil)
	require.NoError(t, err)
	require.Equal(t, ReasonDailyCap, decision.Reason)

	// Removing the rule lifts the gate entirely.
	engine.RemoveRule("transient")
	decision, err = engine.Evaluate(context.Background(), "user-1", "transient", nil, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestDefaultRules_CoverAllNotificationTypes(t *testing.T) {
	byType := make(map[string]Rule)
	for _, r := range DefaultRules() {
		byType[r.Type] = r
	}

	for _, typ := range domain.ValidTypes() {
		_, ok := byType[typ]
		assert.True(t, ok, "missing default rule for %s", typ)
	}

	// System notifications are deliberately uncapped.
	assert.Zero(t, byType[domain.NotificationTypeSystem].MaxPerDay)
	assert.Zero(t, byType[domain.NotificationTypeSystem].Cooldown)
}

func TestMemoryCounterStore_Sweep(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()
	yesterday := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	today := yesterday.Add(25 * time.Hour)

	_, err := store.Reserve(ctx, "user-1", "type_a", time.Hour, 5, yesterday)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "user-2", "type_a", time.Hour, 5, today)
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())

	removed := store.Sweep(today)
	assert.Equal(t, 2, removed, "yesterday's cooldown and daily counter are swept")
	assert.Equal(t, 2, store.Len())
}

func TestEngine_ReserveRecipientCaps_HourlyCap(t *testing.T) {
	engine := newTestEngine(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixClock(engine, base)

	for i := 0; i < 2; i++ {
		decision, err := engine.ReserveRecipientCaps(context.Background(), "user-1", 2, 0)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "send %d should be under the hourly cap", i+1)
	}

	decision, err := engine.ReserveRecipientCaps(context.Background(), "user-1", 2, 0)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonHourlyCap, decision.Reason)

	// Another recipient has their own budget.
	decision, err = engine.ReserveRecipientCaps(context.Background(), "user-2", 2, 0)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// The next clock hour starts a fresh bucket.
	fixClock(engine, base.Add(time.Hour))
	decision, err = engine.ReserveRecipientCaps(context.Background(), "user-1", 2, 0)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_ReserveRecipientCaps_DailyCap(t *testing.T) {
	engine := newTestEngine(t)
	fixClock(engine, time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC))

	for i := 0; i < 2; i++ {
		decision, err := engine.ReserveRecipientCaps(context.Background(), "user-1", 0, 2)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := engine.ReserveRecipientCaps(context.Background(), "user-1", 0, 2)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonRecipientDailyCap, decision.Reason)

	// Next UTC day the counter starts fresh.
	fixClock(engine, time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC))
	decision, err = engine.ReserveRecipientCaps(context.Background(), "user-1", 0, 2)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_ReserveRecipientCaps_ZeroCapsUncapped(t *testing.T) {
	engine := newTestEngine(t)
	store := NewMemoryCounterStore()
	engine.counters = store

	for i := 0; i < 50; i++ {
		decision, err := engine.ReserveRecipientCaps(context.Background(), "user-1", 0, 0)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	assert.Zero(t, store.Len(), "uncapped recipients leave no counter state")
}

func TestMemoryCounterStore_SweepRecipientBuckets(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()
	earlier := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := earlier.Add(25 * time.Hour)

	_, err := store.ReserveRecipient(ctx, "user-1", 5, 10, earlier)
	require.NoError(t, err)
	_, err = store.ReserveRecipient(ctx, "user-2", 5, 10, now)
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())

	removed := store.Sweep(now)
	assert.Equal(t, 2, removed, "the stale hourly and daily buckets are swept")
	assert.Equal(t, 2, store.Len())
}
