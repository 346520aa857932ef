// Package ratelimit holds the Redis-backed counters: the fixed-window request
// limiter and the alert crossing/cooldown state.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Fixed window limiter
// 구조: one hash per (endpoint, user) holding start/end/count in unix ms
// =============================================================================

// fixedWindowScript creates or increments the window in one round trip.
// A new window starts when none exists or now >= end. An existing window is
// incremented only while count < limit, so a denial never moves the counter.
// Returns {allowed, start_ms, end_ms, count}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local w = redis.call('HMGET', key, 'start', 'end', 'count')
local s = w[1] and tonumber(w[1])
local e = w[2] and tonumber(w[2])
local c = w[3] and tonumber(w[3])

if (not e) or now >= e then
	s = now
	e = now + window
	redis.call('HSET', key, 'start', s, 'end', e, 'count', 1)
	redis.call('PEXPIRE', key, window)
	return {1, s, e, 1}
end

if c < limit then
	c = redis.call('HINCRBY', key, 'count', 1)
	return {1, s, e, c}
end

return {0, s, e, c}
`)

// RedisWindowStore is a RateLimitStore on Redis. Expired windows are left to
// key expiry rather than kept as history.
type RedisWindowStore struct {
	client *redis.Client
	prefix string
}

// NewRedisWindowStore creates a store whose keys start with prefix.
func NewRedisWindowStore(client *redis.Client, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) key(userID uuid.UUID, endpoint string) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, endpoint, userID)
}

// Hit atomically creates or increments the window for (userID, endpoint).
func (s *RedisWindowStore) Hit(ctx context.Context, userID uuid.UUID, endpoint string, limit int, window time.Duration, now time.Time) (*domain.RateLimitHit, error) {
	res, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.key(userID, endpoint)},
		now.UnixMilli(), limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit script: %v", domain.ErrStoreUnavailable, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return &domain.RateLimitHit{
		Allowed: res[0] == 1,
		Window: domain.RateLimitWindow{
			UserID:       userID,
			Endpoint:     endpoint,
			WindowStart:  time.UnixMilli(res[1]).UTC(),
			WindowEnd:    time.UnixMilli(res[2]).UTC(),
			RequestCount: int(res[3]),
		},
	}, nil
}

// Current reads the window without consuming.
func (s *RedisWindowStore) Current(ctx context.Context, userID uuid.UUID, endpoint string, now time.Time) (*domain.RateLimitWindow, error) {
	vals, err := s.client.HMGet(ctx, s.key(userID, endpoint), "start", "end", "count").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit read: %v", domain.ErrStoreUnavailable, err)
	}
	start, ok1 := parseInt(vals[0])
	end, ok2 := parseInt(vals[1])
	count, ok3 := parseInt(vals[2])
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	w := &domain.RateLimitWindow{
		UserID:       userID,
		Endpoint:     endpoint,
		WindowStart:  time.UnixMilli(start).UTC(),
		WindowEnd:    time.UnixMilli(end).UTC(),
		RequestCount: int(count),
	}
	if !w.Active(now) {
		return nil, nil
	}
	return w, nil
}

func parseInt(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
