package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter интерфейс для ограничения частоты запросов
type RateLimiter interface {
	// CheckRateLimit проверяет лимит для заданного ключа
	// Возвращает true, если лимит превышен
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisRateLimiter фиксированное окно в Redis, общее для всех реплик
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter создает новый экземпляр RedisRateLimiter
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "rate_limit"}
}

// CheckRateLimit увеличивает счетчик окна и сравнивает его с лимитом.
// INCR и EXPIRE NX выполняются в одной транзакции, поэтому TTL не теряется.
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to execute rate limit transaction: %w", err)
	}

	return incr.Val() > int64(limit), nil
}

// LocalRateLimiter token bucket в памяти процесса. Используется без Redis.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter создает лимитер; ключи без запросов дольше ttl удаляются
func NewLocalRateLimiter(ttl time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CheckRateLimit допускает limit запросов за window с равномерным пополнением
func (l *LocalRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		every := rate.Every(window / time.Duration(limit))
		e = &entry{limiter: rate.NewLimiter(every, limit)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	if len(l.limiters) > 1024 {
		l.evict(now)
	}
	l.mu.Unlock()

	return !e.limiter.AllowN(now, 1), nil
}

// evict вызывается под l.mu
func (l *LocalRateLimiter) evict(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.limiters, key)
		}
	}
}

// FallbackRateLimiter обращается к primary, а при его ошибке считает лимит через fallback
type FallbackRateLimiter struct {
	primary  RateLimiter
	fallback RateLimiter
}

// NewFallbackRateLimiter создает лимитер с запасным вариантом
func NewFallbackRateLimiter(primary, fallback RateLimiter) *FallbackRateLimiter {
	return &FallbackRateLimiter{primary: primary, fallback: fallback}
}

// CheckRateLimit проверяет лимит в primary, при ошибке в fallback
func (f *FallbackRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	exceeded, err := f.primary.CheckRateLimit(ctx, key, limit, window)
	if err == nil {
		return exceeded, nil
	}
	exceeded, fallbackErr := f.fallback.CheckRateLimit(ctx, key, limit, window)
	if fallbackErr != nil {
		return false, fmt.Errorf("primary: %v; fallback: %w", err, fallbackErr)
	}
	return exceeded, nil
}
