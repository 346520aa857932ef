package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Alert state - crossing flag + cooldown claim
// 전략: SET NX marks the transition, SET NX PX holds the cooldown
// =============================================================================

// releaseScript deletes the cooldown key only while it still holds the
// caller's claim.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisAlertState is an AlertStateStore on Redis.
type RedisAlertState struct {
	client *redis.Client
	prefix string
}

// NewRedisAlertState creates the store; keys start with prefix.
func NewRedisAlertState(client *redis.Client, prefix string) *RedisAlertState {
	if prefix == "" {
		prefix = "alert:"
	}
	return &RedisAlertState{client: client, prefix: prefix}
}

func (s *RedisAlertState) aboveKey(userID uuid.UUID) string {
	return s.prefix + "above:" + userID.String()
}

func (s *RedisAlertState) cooldownKey(userID uuid.UUID) string {
	return s.prefix + "cooldown:" + userID.String()
}

// MarkAbove returns true only for the caller that flipped the flag.
func (s *RedisAlertState) MarkAbove(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.aboveKey(userID), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: alert state: %v", domain.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// MarkBelow re-arms the crossing detector.
func (s *RedisAlertState) MarkBelow(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, s.aboveKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: alert state: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ClaimCooldown holds a key for cooldown; a second claim inside it fails.
func (s *RedisAlertState) ClaimCooldown(ctx context.Context, userID uuid.UUID, cooldown time.Duration, now time.Time) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	err := s.client.SetArgs(ctx, s.cooldownKey(userID), now.UnixMilli(), redis.SetArgs{
		Mode: "NX",
		TTL:  cooldown,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: alert cooldown: %v", domain.ErrStoreUnavailable, err)
	}
	return true, nil
}

// ReleaseCooldown drops the cooldown key if it still holds the claim made at claimedAt.
func (s *RedisAlertState) ReleaseCooldown(ctx context.Context, userID uuid.UUID, claimedAt time.Time) error {
	err := releaseScript.Run(ctx, s.client, []string{s.cooldownKey(userID)},
		strconv.FormatInt(claimedAt.UnixMilli(), 10)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: alert cooldown: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
