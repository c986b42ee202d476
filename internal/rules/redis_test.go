package rules

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounterStore(client), mr
}

func TestRedisCounterStore_ReserveCooldown(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	reason, err := store.Reserve(ctx, "user-1", "streak_reminder", time.Hour, 0, now)
	require.NoError(t, err)
	assert.Empty(t, reason)

	reason, err = store.Reserve(ctx, "user-1", "streak_reminder", time.Hour, 0, now)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, reason)

	// After the cooldown key expires the next reserve goes through.
	mr.FastForward(time.Hour + time.Minute)
	reason, err = store.Reserve(ctx, "user-1", "streak_reminder", time.Hour, 0, now)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestRedisCounterStore_ReserveDailyCap(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		reason, err := store.Reserve(ctx, "user-1", "battle_result", 0, 3, now)
		require.NoError(t, err)
		require.Empty(t, reason, "reserve %d should be under the cap", i+1)
	}

	reason, err := store.Reserve(ctx, "user-1", "battle_result", 0, 3, now)
	require.NoError(t, err)
	assert.Equal(t, ReasonDailyCap, reason)

	// A blocked reserve must not have bumped the counter past the cap.
	count, err := store.client.Get(ctx, redisDailyKey("user-1", "battle_result", now)).Int()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRedisCounterStore_CapRejectionLeavesCooldownUnset(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	reason, err := store.Reserve(ctx, "user-1", "tribe_alert", time.Hour, 1, now)
	require.NoError(t, err)
	require.Empty(t, reason)

	// Consume the cooldown key so only the cap can block.
	require.NoError(t, store.client.Del(ctx, redisCooldownKey("user-1", "tribe_alert")).Err())

	reason, err = store.Reserve(ctx, "user-1", "tribe_alert", time.Hour, 1, now)
	require.NoError(t, err)
	require.Equal(t, ReasonDailyCap, reason)

	exists, err := store.client.Exists(ctx, redisCooldownKey("user-1", "tribe_alert")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "a cap-blocked reserve must not re-arm the cooldown")
}

func TestRedisCounterStore_Check(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	reason, err := store.Check(ctx, "user-1", "coin_earned", time.Hour, 2, now)
	require.NoError(t, err)
	assert.Empty(t, reason, "fresh state passes")

	_, err = store.Reserve(ctx, "user-1", "coin_earned", time.Hour, 2, now)
	require.NoError(t, err)

	reason, err = store.Check(ctx, "user-1", "coin_earned", time.Hour, 2, now)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, reason)

	// Check never mutates state.
	count, err := store.client.Get(ctx, redisDailyKey("user-1", "coin_earned", now)).Int()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRedisCounterStore_DailyKeyHasTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Reserve(ctx, "user-1", "battle_result", 0, 10, now)
	require.NoError(t, err)

	key := redisDailyKey("user-1", "battle_result", now)
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0), "daily counter must expire on its own")
	assert.LessOrEqual(t, ttl, dailyKeyTTL)
}

func TestRedisCounterStore_ReserveRecipient(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		reason, err := store.ReserveRecipient(ctx, "user-1", 2, 5, now)
		require.NoError(t, err)
		require.Empty(t, reason, "reserve %d should be under both caps", i+1)
	}

	reason, err := store.ReserveRecipient(ctx, "user-1", 2, 5, now)
	require.NoError(t, err)
	assert.Equal(t, ReasonHourlyCap, reason)

	// A blocked reserve must not have bumped either counter.
	hourly, err := store.client.Get(ctx, redisRecipientHourKey("user-1", now)).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, hourly)
	daily, err := store.client.Get(ctx, redisRecipientDayKey("user-1", now)).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, daily)
}

func TestRedisCounterStore_ReserveRecipient_DailyCap(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		reason, err := store.ReserveRecipient(ctx, "user-1", 0, 3, now)
		require.NoError(t, err)
		require.Empty(t, reason)
	}

	reason, err := store.ReserveRecipient(ctx, "user-1", 0, 3, now)
	require.NoError(t, err)
	assert.Equal(t, ReasonRecipientDailyCap, reason)
}

func TestRedisCounterStore_RecipientKeysHaveTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.ReserveRecipient(ctx, "user-1", 5, 10, now)
	require.NoError(t, err)

	hourCounter := redisRecipientHourKey("user-1", now)
	require.True(t, mr.Exists(hourCounter))
	assert.Greater(t, mr.TTL(hourCounter), time.Duration(0))
	assert.LessOrEqual(t, mr.TTL(hourCounter), hourlyKeyTTL)

	dayCounter := redisRecipientDayKey("user-1", now)
	require.True(t, mr.Exists(dayCounter))
	assert.Greater(t, mr.TTL(dayCounter), time.Duration(0))
	assert.LessOrEqual(t, mr.TTL(dayCounter), dailyKeyTTL)
}
