package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dailyKeyTTL keeps daily counters around slightly past the UTC day boundary
// so late in-flight checks still see the bucket, then lets Redis expire it.
const dailyKeyTTL = 26 * time.Hour

// hourlyKeyTTL does the same for hourly recipient-cap buckets.
const hourlyKeyTTL = 2 * time.Hour

// reserveScript performs the cooldown + daily-cap check-and-increment as a
// single server-side operation, so concurrent sends across instances cannot
// both slip under the cap.
//
// KEYS[1] = cooldown key, KEYS[2] = daily counter key
// ARGV[1] = cooldown millis (0 = no cooldown)
// ARGV[2] = max per day (0 = uncapped)
// ARGV[3] = daily key TTL millis
var reserveScript = redis.NewScript(`
if tonumber(ARGV[1]) > 0 and redis.call('EXISTS', KEYS[1]) == 1 then
	return 'cooldown'
end
if tonumber(ARGV[2]) > 0 then
	local count = tonumber(redis.call('GET', KEYS[2]) or '0')
	if count >= tonumber(ARGV[2]) then
		return 'daily_cap'
	end
	local n = redis.call('INCR', KEYS[2])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[2], ARGV[3])
	end
end
if tonumber(ARGV[1]) > 0 then
	redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
end
return 'ok'
`)

// reserveRecipientScript performs the recipient-wide hourly + daily cap
// check-and-increment in one server-side operation.
//
// KEYS[1] = hourly counter key, KEYS[2] = daily counter key
// ARGV[1] = max per hour (0 = uncapped)
// ARGV[2] = max per day (0 = uncapped)
// ARGV[3] = hourly key TTL millis
// ARGV[4] = daily key TTL millis
var reserveRecipientScript = redis.NewScript(`
if tonumber(ARGV[1]) > 0 then
	local h = tonumber(redis.call('GET', KEYS[1]) or '0')
	if h >= tonumber(ARGV[1]) then
		return 'hourly_cap'
	end
end
if tonumber(ARGV[2]) > 0 then
	local d = tonumber(redis.call('GET', KEYS[2]) or '0')
	if d >= tonumber(ARGV[2]) then
		return 'recipient_daily_cap'
	end
end
if tonumber(ARGV[1]) > 0 then
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[3])
	end
end
if tonumber(ARGV[2]) > 0 then
	local n = redis.call('INCR', KEYS[2])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[2], ARGV[4])
	end
end
return 'ok'
`)

// RedisCounterStore keeps cooldown and daily-cap state in Redis with atomic
// increment-and-expire semantics, making the accounting safe for horizontally
// scaled deployments and durable across restarts.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a Redis-backed counter store.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Check reports the first blocking reason without committing anything.
func (s *RedisCounterStore) Check(ctx context.Context, recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) (string, error) {
	if cooldown > 0 {
		exists, err := s.client.Exists(ctx, redisCooldownKey(recipientID, notificationType)).Result()
		if err != nil {
			return "", fmt.Errorf("check cooldown key: %w", err)
		}
		if exists == 1 {
			return ReasonCooldown, nil
		}
	}

	if maxPerDay > 0 {
		count, err := s.client.Get(ctx, redisDailyKey(recipientID, notificationType, now)).Int()
		if err != nil && err != redis.Nil {
			return "", fmt.Errorf("check daily counter: %w", err)
		}
		if count >= maxPerDay {
			return ReasonDailyCap, nil
		}
	}

	return "", nil
}

// Reserve runs the atomic check-and-increment script.
func (s *RedisCounterStore) Reserve(ctx context.Context, recipientID, notificationType string, cooldown time.Duration, maxPerDay int, now time.Time) (string, error) {
	keys := []string{
		redisCooldownKey(recipientID, notificationType),
		redisDailyKey(recipientID, notificationType, now),
	}
	args := []any{
		cooldown.Milliseconds(),
		maxPerDay,
		dailyKeyTTL.Milliseconds(),
	}

	result, err := reserveScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return "", fmt.Errorf("run reserve script: %w", err)
	}

	if result == "ok" {
		return "", nil
	}
	return result, nil
}

// ReserveRecipient runs the atomic recipient-wide cap script.
func (s *RedisCounterStore) ReserveRecipient(ctx context.Context, recipientID string, maxPerHour, maxPerDay int, now time.Time) (string, error) {
	keys := []string{
		redisRecipientHourKey(recipientID, now),
		redisRecipientDayKey(recipientID, now),
	}
	args := []any{
		maxPerHour,
		maxPerDay,
		hourlyKeyTTL.Milliseconds(),
		dailyKeyTTL.Milliseconds(),
	}

	result, err := reserveRecipientScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return "", fmt.Errorf("run recipient cap script: %w", err)
	}

	if result == "ok" {
		return "", nil
	}
	return result, nil
}

var _ CounterStore = (*RedisCounterStore)(nil)
