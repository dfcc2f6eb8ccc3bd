package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRateLimiter_Burst(t *testing.T) {
	limiter := NewLocalRateLimiter(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := limiter.CheckRateLimit(ctx, "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded, "request %d", i)
	}

	exceeded, err := limiter.CheckRateLimit(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded)

	// Другой ключ считается отдельно
	exceeded, _ = limiter.CheckRateLimit(ctx, "10.0.0.2", 3, time.Minute)
	assert.False(t, exceeded)
}

// TestLocalRateLimiter_Refill токены пополняются со временем
func TestLocalRateLimiter_Refill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewLocalRateLimiter(time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	exceeded, _ := limiter.CheckRateLimit(ctx, "key", 1, time.Second)
	assert.False(t, exceeded)
	exceeded, _ = limiter.CheckRateLimit(ctx, "key", 1, time.Second)
	assert.True(t, exceeded)

	now = now.Add(time.Second)
	exceeded, _ = limiter.CheckRateLimit(ctx, "key", 1, time.Second)
	assert.False(t, exceeded)
}

func TestLocalRateLimiter_Evict(t *testing.T) {
	now := time.Now()
	limiter := NewLocalRateLimiter(time.Second)
	limiter.now = func() time.Time { return now }

	limiter.limiters["stale"] = &entry{lastSeen: now.Add(-time.Hour)}
	limiter.evict(now)

	assert.NotContains(t, limiter.limiters, "stale")
}

// TestRedisRateLimiter запускается только при заданном LICENSE_TEST_REDIS_ADDR
func TestRedisRateLimiter(t *testing.T) {
	addr := os.Getenv("LICENSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LICENSE_TEST_REDIS_ADDR is not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	limiter := NewRedisRateLimiter(client)
	key := uuid.NewString()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		exceeded, err := limiter.CheckRateLimit(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded)
	}
	exceeded, err := limiter.CheckRateLimit(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded)

	ttl, err := client.TTL(ctx, "rate_limit:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

type failingLimiter struct{}

func (failingLimiter) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return false, assert.AnError
}

func TestFallbackRateLimiter(t *testing.T) {
	ctx := context.Background()

	limiter := NewFallbackRateLimiter(failingLimiter{}, NewLocalRateLimiter(time.Minute))
	exceeded, err := limiter.CheckRateLimit(ctx, "10.0.0.9", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, exceeded)

	exceeded, err = limiter.CheckRateLimit(ctx, "10.0.0.9", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded, "fallback keeps counting")

	_, err = NewFallbackRateLimiter(failingLimiter{}, failingLimiter{}).CheckRateLimit(ctx, "k", 1, time.Minute)
	assert.Error(t, err)
}
