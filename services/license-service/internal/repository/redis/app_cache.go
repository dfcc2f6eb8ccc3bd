package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// Cache подмножество команд go-redis, нужное кэшу. *redis.Client его реализует.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AppRepository кэш приложений поверх основного репозитория.
// Ошибки Redis не влияют на результат: запрос уходит в основной репозиторий.
// Отсутствующие приложения не кэшируются.
type AppRepository struct {
	next   repository.AppRepository
	cache  Cache
	ttl    time.Duration
	logger logger.Logger
}

var _ repository.AppRepository = (*AppRepository)(nil)

// NewAppRepository создает кэширующий репозиторий приложений
func NewAppRepository(next repository.AppRepository, cache Cache, ttl time.Duration, log logger.Logger) *AppRepository {
	return &AppRepository{next: next, cache: cache, ttl: ttl, logger: log}
}

func appKey(id int64) string {
	return fmt.Sprintf("license:app:%d", id)
}

// FindByID возвращает приложение из кэша или из основного репозитория
func (r *AppRepository) FindByID(ctx context.Context, id int64) (*domain.App, error) {
	key := appKey(id)

	data, err := r.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var app domain.App
		if err := json.Unmarshal(data, &app); err == nil {
			return &app, nil
		}
		r.logger.Warn("Corrupted app cache entry", logger.String("key", key))
	case err != redis.Nil:
		r.logger.Warn("App cache read failed", logger.String("key", key), logger.Error(err))
	}

	app, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(app); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("App cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return app, nil
}

// Invalidate удаляет приложение из кэша
func (r *AppRepository) Invalidate(ctx context.Context, id int64) error {
	if err := r.cache.Del(ctx, appKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate app cache: %w", err)
	}
	return nil
}
