package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache is a read-through cache of in-flight call statuses.
// The repository stays the source of truth; entries are dropped on finalization.
type StatusCache interface {
	Get(ctx context.Context, callUUID string) (Status, bool, error)
	Set(ctx context.Context, callUUID string, s Status) error
	Invalidate(ctx context.Context, callUUID string) error
}

// MemoryCache is a process-local StatusCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Status
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{entries: map[string]Status{}} }

func (c *MemoryCache) Get(_ context.Context, callUUID string) (Status, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[callUUID]
	return s, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, callUUID string, s Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[callUUID] = s
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, callUUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, callUUID)
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares in-flight statuses between API replicas.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "calls:status:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(callUUID string) string { return c.prefix + callUUID }

func (c *RedisCache) Get(ctx context.Context, callUUID string) (Status, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(callUUID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Status(v), true, nil
}

func (c *RedisCache) Set(ctx context.Context, callUUID string, s Status) error {
	return c.rdb.Set(ctx, c.key(callUUID), string(s), c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, callUUID string) error {
	return c.rdb.Del(ctx, c.key(callUUID)).Err()
}
