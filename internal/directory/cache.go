package directory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Cache holds lookup results for a bounded TTL. Writes to the directory
// invalidate the affected key atomically with the write, so a cached result
// is never older than the last mutation of its key.
type Cache interface {
	Get(ctx context.Context, key string) (*ListResult, bool)
	Set(ctx context.Context, key string, result *ListResult)
	Invalidate(ctx context.Context, key string)
}

type cacheEntry struct {
	result    ListResult
	expiresAt time.Time
}

// MemoryCache is a concurrent-safe in-process Cache with lazy expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

// NewMemoryCache creates a cache with the given TTL (5m is the default used
// by the directory when none is configured).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*ListResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	out := e.result
	return &out, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, result *ListResult) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: *result, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// RedisCache is a Cache shared across engine instances. Lookup results are
// stored as JSON under a namespaced key with a server-side TTL, so restarts
// and sibling instances see the same view.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a redis-backed cache with the given TTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "riskengine:directory:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*ListResult, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var result ListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result *ListResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, raw, c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	c.client.Del(ctx, c.prefix+key)
}

type countingCache struct {
	Cache
	misses prometheus.Counter
}

// WithMissCounter decorates a cache so lookup misses feed the given counter.
func WithMissCounter(inner Cache, misses prometheus.Counter) Cache {
	return &countingCache{Cache: inner, misses: misses}
}

func (c *countingCache) Get(ctx context.Context, key string) (*ListResult, bool) {
	res, ok := c.Cache.Get(ctx, key)
	if !ok {
		c.misses.Inc()
	}
	return res, ok
}
