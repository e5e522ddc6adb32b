package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewRedisCache(mr.Addr(), "", 0, 10, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

// TestRedisCache_SetGet tests a JSON round trip through the cache
func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRedis(t)
	require.NoError(t, cache.Ping(ctx))

	type profile struct {
		Email   string `json:"email"`
		IsAdmin bool   `json:"is_admin"`
	}
	require.NoError(t, cache.Set(ctx, UserCacheKey("u1"), profile{Email: "a@example.com", IsAdmin: true}, time.Minute))

	var got profile
	found, err := cache.Get(ctx, UserCacheKey("u1"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, profile{Email: "a@example.com", IsAdmin: true}, got)

	require.NoError(t, cache.Delete(ctx, UserCacheKey("u1")))
	found, err = cache.Get(ctx, UserCacheKey("u1"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestRedisCache_SizeLimit tests that oversized values are rejected
func TestRedisCache_SizeLimit(t *testing.T) {
	cache, _ := newTestRedis(t)
	big := make([]byte, maxCacheValueSize)
	assert.Error(t, cache.Set(context.Background(), "big", big, time.Minute))
}

// TestRedisCache_IncrWindow tests fixed-window counting and expiry
func TestRedisCache_IncrWindow(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedis(t)
	key := LoginCacheKey("10.0.0.1")

	for want := int64(1); want <= 3; want++ {
		n, err := cache.IncrWindow(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(time.Minute + time.Second)
	n, err := cache.IncrWindow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "window restarts after expiry")
}
