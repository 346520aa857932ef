package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	client, _ := newRedis(t)
	store := NewRedisWindowStore(client, "")
	ctx := context.Background()
	user := uuid.New()
	now := time.Now().Truncate(time.Millisecond)

	for i := 1; i <= 3; i++ {
		hit, err := store.Hit(ctx, user, "feedback", 3, time.Hour, now)
		require.NoError(t, err)
		assert.True(t, hit.Allowed)
		assert.Equal(t, i, hit.Window.RequestCount)
	}

	hit, err := store.Hit(ctx, user, "feedback", 3, time.Hour, now)
	require.NoError(t, err)
	assert.False(t, hit.Allowed)
	assert.Equal(t, 3, hit.Window.RequestCount, "denial must not increment")
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), hit.Window.WindowEnd.UnixMilli())
}

func TestFixedWindowStartsNewWindowAtEnd(t *testing.T) {
	client, _ := newRedis(t)
	store := NewRedisWindowStore(client, "")
	ctx := context.Background()
	user := uuid.New()
	now := time.Now()

	_, err := store.Hit(ctx, user, "feedback", 1, time.Minute, now)
	require.NoError(t, err)
	denied, err := store.Hit(ctx, user, "feedback", 1, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	next, err := store.Hit(ctx, user, "feedback", 1, time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, next.Allowed)
	assert.Equal(t, 1, next.Window.RequestCount)
}

func TestFixedWindowNoOverAdmissionUnderConcurrency(t *testing.T) {
	client, _ := newRedis(t)
	store := NewRedisWindowStore(client, "")
	ctx := context.Background()
	user := uuid.New()
	now := time.Now()

	const limit, callers = 7, 60
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hit, err := store.Hit(ctx, user, "feedback", limit, time.Hour, now)
			if err == nil && hit.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed)
	w, err := store.Current(ctx, user, "feedback", now)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, limit, w.RequestCount)
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	client, _ := newRedis(t)
	store := NewRedisWindowStore(client, "")
	ctx := context.Background()
	now := time.Now()
	a, b := uuid.New(), uuid.New()

	_, err := store.Hit(ctx, a, "feedback", 1, time.Hour, now)
	require.NoError(t, err)

	hit, err := store.Hit(ctx, b, "feedback", 1, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, hit.Allowed)

	hit, err = store.Hit(ctx, a, "analytics", 1, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, hit.Allowed)
}

func TestCurrentWithoutWindow(t *testing.T) {
	client, _ := newRedis(t)
	store := NewRedisWindowStore(client, "")

	w, err := store.Current(context.Background(), uuid.New(), "feedback", time.Now())
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestHitReportsStoreUnavailable(t *testing.T) {
	client, mr := newRedis(t)
	store := NewRedisWindowStore(client, "")
	mr.Close()

	_, err := store.Hit(context.Background(), uuid.New(), "feedback", 1, time.Hour, time.Now())
	assert.Error(t, err)
}

func TestAlertStateCrossingAndCooldown(t *testing.T) {
	client, mr := newRedis(t)
	state := NewRedisAlertState(client, "")
	ctx := context.Background()
	user := uuid.New()
	now := time.Now()

	crossed, err := state.MarkAbove(ctx, user)
	require.NoError(t, err)
	assert.True(t, crossed)

	crossed, err = state.MarkAbove(ctx, user)
	require.NoError(t, err)
	assert.False(t, crossed, "already above")

	require.NoError(t, state.MarkBelow(ctx, user))
	crossed, err = state.MarkAbove(ctx, user)
	require.NoError(t, err)
	assert.True(t, crossed)

	ok, err := state.ClaimCooldown(ctx, user, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = state.ClaimCooldown(ctx, user, time.Hour, now)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Hour + time.Second)
	ok, err = state.ClaimCooldown(ctx, user, time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAlertStateReleaseCooldown(t *testing.T) {
	client, _ := newRedis(t)
	state := NewRedisAlertState(client, "")
	ctx := context.Background()
	user := uuid.New()
	now := time.Now()

	ok, err := state.ClaimCooldown(ctx, user, time.Hour, now)
	require.NoError(t, err)
	require.True(t, ok)

	// a stale claim time leaves the key alone
	require.NoError(t, state.ReleaseCooldown(ctx, user, now.Add(-time.Minute)))
	ok, err = state.ClaimCooldown(ctx, user, time.Hour, now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, state.ReleaseCooldown(ctx, user, now))
	ok, err = state.ClaimCooldown(ctx, user, time.Hour, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, state.ReleaseCooldown(ctx, uuid.New(), now), "nothing to release")
}
