package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// L1 Cache - in-process, LRU bounded, per-entry TTL
// =============================================================================

const defaultLocalItems = 10000

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalCache is the in-process stand-in for RedisCache when no Redis is configured.
// Values are stored as JSON so callers never share mutable state.
type LocalCache struct {
	items *lru.Cache[string, localEntry]
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewLocalCache creates a cache holding at most maxItems entries.
func NewLocalCache(maxItems int) *LocalCache {
	if maxItems <= 0 {
		maxItems = defaultLocalItems
	}
	items, err := lru.New[string, localEntry](maxItems)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &LocalCache{items: items, now: time.Now}
}

func (c *LocalCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	entry, ok := c.items.Get(key)
	if !ok {
		c.misses.Add(1)
		return false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.items.Remove(key)
		c.misses.Add(1)
		return false, nil
	}
	if err := json.Unmarshal(entry.value, dest); err != nil {
		c.items.Remove(key)
		c.misses.Add(1)
		return false, nil
	}
	c.hits.Add(1)
	return true, nil
}

func (c *LocalCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items.Add(key, localEntry{value: data, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *LocalCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.items.Remove(k)
	}
	return nil
}

// Stats returns hit and miss counts since creation.
func (c *LocalCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
