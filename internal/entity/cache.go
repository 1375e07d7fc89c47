package entity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetbridge/internal/common/database"
	"fleetbridge/internal/common/logger"
)

// MemoryCache is a process-local cache for extraction results. Suitable for
// single-instance deployments and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Result)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

// RedisCache shares extraction results across pipeline instances. Cache
// trouble is logged and swallowed; extraction just runs again.
type RedisCache struct {
	client *database.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisCache(client *database.RedisClient, ttl time.Duration, log logger.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: log.With(map[string]interface{}{
			"component": "entity_cache",
		}),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool) {
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		_ = c.client.Del(ctx, key)
		return nil, false
	}
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result *Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.Warn("cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}
