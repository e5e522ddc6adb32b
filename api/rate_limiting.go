package api

import (
	"context"
	"sync"
	"time"

	"tablevault/config"
	"tablevault/storage"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoginLimiter throttles login attempts per client IP.
type LoginLimiter interface {
	Allow(ctx context.Context, ip string) bool
}

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLoginLimiter is a per-process token bucket per IP.
type MemoryLoginLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry
	now      func() time.Time
}

// NewMemoryLoginLimiter allows cfg.Limit attempts per cfg.Window with cfg.Burst.
func NewMemoryLoginLimiter(cfg config.LoginRateLimit) *MemoryLoginLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.Limit
	}
	return &MemoryLoginLimiter{
		limit:    rate.Limit(float64(cfg.Limit) / cfg.Window.Seconds()),
		burst:    burst,
		idle:     cfg.Window * 10,
		limiters: make(map[string]*rateLimiterEntry),
		now:      time.Now,
	}
}

func (l *MemoryLoginLimiter) Allow(_ context.Context, ip string) bool {
	now := l.now()
	l.mu.Lock()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	// Capture limiter reference while holding lock to prevent race condition
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Cleanup removes limiters idle for longer than ten windows.
func (l *MemoryLoginLimiter) Cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, ip)
		}
	}
}

// Run cleans up idle limiters until ctx is done.
func (l *MemoryLoginLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// WindowCounter counts events in a fixed window shared across instances.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisLoginLimiter is a fixed window counter per IP shared by every API
// instance. Redis failures let the attempt through.
type RedisLoginLimiter struct {
	counter WindowCounter
	limit   int64
	window  time.Duration
	logger  *zap.SugaredLogger
}

// NewRedisLoginLimiter allows cfg.Limit attempts per cfg.Window.
func NewRedisLoginLimiter(counter WindowCounter, cfg config.LoginRateLimit, logger *zap.SugaredLogger) *RedisLoginLimiter {
	return &RedisLoginLimiter{
		counter: counter,
		limit:   int64(cfg.Limit),
		window:  cfg.Window,
		logger:  logger,
	}
}

func (l *RedisLoginLimiter) Allow(ctx context.Context, ip string) bool {
	n, err := l.counter.IncrWindow(ctx, storage.LoginCacheKey(ip), l.window)
	if err != nil {
		l.logger.Warnw("Login rate limiter unavailable, allowing attempt", "ip", ip, "error", err)
		return true
	}
	return n <= l.limit
}
