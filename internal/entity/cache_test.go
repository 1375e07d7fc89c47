// internal/entity/cache_test.go
package entity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbridge/internal/common/database"
	"fleetbridge/internal/common/logger"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := &database.RedisClient{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
	return NewRedisCache(client, 10*time.Minute, logger.NewTestLogger(t)), mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()

	stored := &Result{
		Profile: "reservation",
		Fields: map[string]Field{
			"vehicle_id": {
				Name:       "vehicle_id",
				Value:      "VAN-12",
				Confidence: 0.95,
				Source:     SourcePattern,
				Span:       Span{Start: 8, End: 14},
			},
		},
		Notes: []string{"model extraction unavailable: upstream 503"},
	}

	cache.Set(ctx, "extract:VEHICLE_RESERVATION:abcd1234", stored)

	got, ok := cache.Get(ctx, "extract:VEHICLE_RESERVATION:abcd1234")
	require.True(t, ok)
	assert.Equal(t, stored, got)
}

func TestRedisCache_MissingKey(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	_, ok := cache.Get(context.Background(), "extract:none")
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryDropped(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("extract:bad", "not json {{{"))

	_, ok := cache.Get(ctx, "extract:bad")
	assert.False(t, ok)
	assert.False(t, mr.Exists("extract:bad"))
}

func TestRedisCache_EntriesExpire(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "extract:ttl", &Result{Profile: "query", Fields: map[string]Field{}})
	mr.FastForward(11 * time.Minute)

	_, ok := cache.Get(ctx, "extract:ttl")
	assert.False(t, ok)
}

func TestRedisCache_ServerDownIsSilentMiss(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	mr.Close()

	_, ok := cache.Get(context.Background(), "extract:any")
	assert.False(t, ok)

	// Writes against a dead server must not panic or error out the caller.
	cache.Set(context.Background(), "extract:any", &Result{Profile: "query", Fields: map[string]Field{}})
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)

	r := &Result{Profile: "status", Fields: map[string]Field{}}
	cache.Set(ctx, "k", r)

	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Same(t, r, got)
}
