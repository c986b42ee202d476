package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CounterStore is the cooldown and daily-cap accounting backend. The
// check-and-increment in Reserve must be atomic per (recipient, type) key so
// two concurrent sends cannot both observe "under the cap" and both proceed.
type CounterStore interface {
	// Check reports, without committing anything, whether a send would
	// currently be blocked and why ("" means it would pass).
	Check(ctx context.Context, recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) (string, error)

	// Reserve atomically re-checks cooldown and daily cap and, if both pass,
	// commits the cooldown timestamp and increments the daily counter.
	// Returns "" on success or the blocking reason; on a blocking reason
	// nothing is committed.
	Reserve(ctx context.Context, recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) (string, error)

	// ReserveRecipient atomically checks and commits the recipient-wide
	// hourly and daily frequency caps, counted across all notification
	// types. A cap of zero is uncapped. Returns "" on success or the
	// blocking reason; on a blocking reason nothing is committed.
	ReserveRecipient(ctx context.Context, recipientID string, maxPerHour, maxPerDay int, now time.Time) (string, error)
}

// dayKey is the UTC calendar date bucket for daily-cap accounting.
func dayKey(now time.Time) string {
	return now.UTC().Format("20060102")
}

// hourKey is the UTC clock-hour bucket for hourly-cap accounting.
func hourKey(now time.Time) string {
	return now.UTC().Format("2006010215")
}

// MemoryCounterStore keeps counters in process-local maps guarded by a single
// mutex. Suitable for tests and single-instance deployments; horizontally
// scaled deployments use RedisCounterStore instead.
type MemoryCounterStore struct {
	mu          sync.Mutex
	cooldowns   map[string]time.Time // (recipient,type) -> last committed send
	daily       map[string]int       // (recipient,type,day) -> count
	recipHourly map[string]int       // (recipient,hour) -> count across types
	recipDaily  map[string]int       // (recipient,day) -> count across types
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		cooldowns:   make(map[string]time.Time),
		daily:       make(map[string]int),
		recipHourly: make(map[string]int),
		recipDaily:  make(map[string]int),
	}
}

func cooldownMapKey(recipientID, notificationType string) string {
	return recipientID + ":" + notificationType
}

func dailyMapKey(recipientID, notificationType string, now time.Time) string {
	return recipientID + ":" + notificationType + ":" + dayKey(now)
}

func recipientHourMapKey(recipientID string, now time.Time) string {
	return recipientID + ":" + hourKey(now)
}

func recipientDayMapKey(recipientID string, now time.Time) string {
	return recipientID + ":" + dayKey(now)
}

// Check reports the first blocking reason without committing.
func (s *MemoryCounterStore) Check(_ context.Context, recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(recipientID, notificationType, cooldown, maxPerDay, now), nil
}

// Reserve atomically checks and, on success, commits.
func (s *MemoryCounterStore) Reserve(_ context.Context, recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.checkLocked(recipientID, notificationType, cooldown, maxPerDay, now); reason != "" {
		return reason, nil
	}

	if cooldown > 0 {
		s.cooldowns[cooldownMapKey(recipientID, notificationType)] = now
	}
	if maxPerDay > 0 {
		s.daily[dailyMapKey(recipientID, notificationType, now)]++
	}
	return "", nil
}

// ReserveRecipient atomically checks and commits the recipient-wide caps.
func (s *MemoryCounterStore) ReserveRecipient(_ context.Context, recipientID string, maxPerHour, maxPerDay int, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hourly := recipientHourMapKey(recipientID, now)
	daily := recipientDayMapKey(recipientID, now)

	if maxPerHour > 0 && s.recipHourly[hourly] >= maxPerHour {
		return ReasonHourlyCap, nil
	}
	if maxPerDay > 0 && s.recipDaily[daily] >= maxPerDay {
		return ReasonRecipientDailyCap, nil
	}

	if maxPerHour > 0 {
		s.recipHourly[hourly]++
	}
	if maxPerDay > 0 {
		s.recipDaily[daily]++
	}
	return "", nil
}

func (s *MemoryCounterStore) checkLocked(recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) string {
	if cooldown > 0 {
		if last, ok := s.cooldowns[cooldownMapKey(recipientID, notificationType)]; ok {
			if now.Sub(last) < cooldown {
				return ReasonCooldown
			}
		}
	}
	if maxPerDay > 0 {
		if s.daily[dailyMapKey(recipientID, notificationType, now)] >= maxPerDay {
			return ReasonDailyCap
		}
	}
	return ""
}

// Sweep removes cooldown entries older than 24 hours and daily counters for
// past calendar days. Called periodically so the maps stay bounded.
func (s *MemoryCounterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, last := range s.cooldowns {
		if now.Sub(last) > 24*time.Hour {
			delete(s.cooldowns, key)
			removed++
		}
	}

	daySuffix := ":" + dayKey(now)
	for key := range s.daily {
		if !hasSuffix(key, daySuffix) {
			delete(s.daily, key)
			removed++
		}
	}
	for key := range s.recipDaily {
		if !hasSuffix(key, daySuffix) {
			delete(s.recipDaily, key)
			removed++
		}
	}

	hourSuffix := ":" + hourKey(now)
	for key := range s.recipHourly {
		if !hasSuffix(key, hourSuffix) {
			delete(s.recipHourly, key)
			removed++
		}
	}
	return removed
}

func hasSuffix(key, suffix string) bool {
	return len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix
}

// Len reports the number of live entries, for tests and metrics.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cooldowns) + len(s.daily) + len(s.recipHourly) + len(s.recipDaily)
}

var _ CounterStore = (*MemoryCounterStore)(nil)

// counterKeyPrefix namespaces all counter keys in shared stores.
const counterKeyPrefix = "notif"

func redisCooldownKey(recipientID, notificationType string) string {
	return fmt.Sprintf("%s:cd:%s:%s", counterKeyPrefix, recipientID, notificationType)
}

func redisDailyKey(recipientID, notificationType string, now time.Time) string {
	return fmt.Sprintf("%s:day:%s:%s:%s", counterKeyPrefix, recipientID, notificationType, dayKey(now))
}

func redisRecipientHourKey(recipientID string, now time.Time) string {
	return fmt.Sprintf("%s:rhr:%s:%s", counterKeyPrefix, recipientID, hourKey(now))
}

func redisRecipientDayKey(recipientID string, now time.Time) string {
	return fmt.Sprintf("%s:rday:%s:%s", counterKeyPrefix, recipientID, dayKey(now))
}
