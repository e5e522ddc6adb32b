package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tablevault/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxCacheValueSize bounds a single cached value.
const maxCacheValueSize = 1 << 20

// Cache key prefixes.
const (
	CacheKeyLoginPrefix = "login:"
	CacheKeyUserPrefix  = "user:"
)

// RedisCache is a shared cache and counter store used by the login throttle
// and the user cache when several API instances run side by side.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a JSON-encoded value with expiration.
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("failed to marshal cache value for key %s: %w", key, err)
	}
	if len(data) > maxCacheValueSize {
		rc.logger.Warnw("Cache value exceeds size limit, rejecting", "key", key, "size", len(data), "limit", maxCacheValueSize)
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}
	return nil
}

// Get decodes a cached value into dest. It reports false on a miss.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return false, nil
		}
		rc.logger.Errorw("Failed to get cache value", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		rc.logger.Errorw("Failed to unmarshal cache value", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, err
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// IncrWindow increments a fixed-window counter and returns its new value.
// The window starts at the first increment.
func (rc *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := rc.client.Incr(ctx, key).Result()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "incr").Inc()
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	if n == 1 {
		if err := rc.client.Expire(ctx, key, window).Err(); err != nil {
			metrics.CacheErrors.WithLabelValues("redis", "expire").Inc()
			return n, fmt.Errorf("failed to set expiry on %s: %w", key, err)
		}
	}
	return n, nil
}

// LoginCacheKey returns the throttle key of a client address.
func LoginCacheKey(ip string) string {
	return CacheKeyLoginPrefix + ip
}

// UserCacheKey returns the cache key of a user profile.
func UserCacheKey(userID string) string {
	return CacheKeyUserPrefix + userID
}
