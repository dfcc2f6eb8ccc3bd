package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"LicensePlatform/pkg/config"
	"LicensePlatform/pkg/connection"
	"LicensePlatform/pkg/database"
	"LicensePlatform/pkg/health"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/metrics"
	"LicensePlatform/pkg/rabbitmq"
	"LicensePlatform/pkg/ratelimit"
	pkg_redis "LicensePlatform/pkg/redis"

	"LicensePlatform/services/license-service/internal/audit"
	"LicensePlatform/services/license-service/internal/repository"
	"LicensePlatform/services/license-service/internal/repository/memory"
	"LicensePlatform/services/license-service/internal/repository/postgres"
	redisrepo "LicensePlatform/services/license-service/internal/repository/redis"
)

// infrastructure внешние зависимости сервиса и порядок их закрытия
type infrastructure struct {
	licenses  repository.LicenseRepository
	legacy    repository.LegacyKeyRepository
	apps      repository.AppRepository
	resellers repository.ResellerAppRepository
	audit     repository.AuditRepository

	db       *database.Postgres
	redis    *pkg_redis.Client
	rabbitmq *rabbitmq.Connection

	logger logger.Logger
}

// openStorage подключает хранилище по storage.driver
func openStorage(ctx context.Context, cfg *config.Config, appLogger logger.Logger, checker *health.DependencyChecker) (*infrastructure, error) {
	infra := &infrastructure{logger: appLogger}

	switch cfg.Storage.Driver {
	case "memory":
		appLogger.Warn("Using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		infra.licenses = store.Licenses()
		infra.legacy = store.Legacy()
		infra.apps = store.Apps()
		infra.resellers = store.ResellerApps()
		infra.audit = store.Audit()
	default:
		db, err := database.Connect(ctx, database.FromAppConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		infra.db = db
		checker.Register("postgres", db.HealthCheck)

		timeout := config.Duration(cfg.Database.QueryTimeout, 3*time.Second)
		infra.licenses = postgres.NewLicenseRepository(db.Pool, timeout)
		infra.legacy = postgres.NewLegacyKeyRepository(db.Pool, timeout)
		infra.apps = postgres.NewAppRepository(db.Pool, timeout)
		infra.resellers = postgres.NewResellerAppRepository(db.Pool, timeout)
		infra.audit = postgres.NewAuditRepository(db.Pool, timeout)
		appLogger.Info("Connected to PostgreSQL", logger.String("host", cfg.Database.Host))
	}

	return infra, nil
}

// connectRedis подключает Redis. Недоступный Redis не мешает старту:
// кэш приложений отключается, лимитер работает локально.
func (i *infrastructure) connectRedis(ctx context.Context, cfg *config.Config, checker *health.DependencyChecker) {
	if !cfg.Redis.Enabled {
		return
	}

	client, err := pkg_redis.Connect(ctx, pkg_redis.FromAppConfig(cfg.Redis))
	if err != nil {
		i.logger.Warn("Redis is unavailable, continuing without cache", logger.Error(err))
		return
	}
	i.redis = client
	checker.Register("redis", client.HealthCheck)

	ttl := config.Duration(cfg.Redis.AppCacheTTL, time.Minute)
	i.apps = redisrepo.NewAppRepository(i.apps, client.Client, ttl, i.logger)
	i.logger.Info("Connected to Redis", logger.String("addr", cfg.Redis.Addr), logger.Duration("app_cache_ttl", ttl))
}

// rateLimiter лимитер для POST /connect: Redis с локальным запасным вариантом
func (i *infrastructure) rateLimiter(cfg *config.Config) ratelimit.RateLimiter {
	if !cfg.RateLimiting.Enabled {
		return nil
	}
	local := ratelimit.NewLocalRateLimiter(10 * time.Minute)
	if i.redis == nil {
		return local
	}
	return ratelimit.NewFallbackRateLimiter(ratelimit.NewRedisRateLimiter(i.redis.Client), local)
}

// auditSink собирает бэкенды журнала из audit.backends
func (i *infrastructure) auditSink(ctx context.Context, cfg *config.Config, appMetrics *metrics.Metrics, checker *health.DependencyChecker) (*audit.AsyncSink, error) {
	var backends audit.MultiBackend
	for _, name := range cfg.Audit.Backends {
		switch strings.TrimSpace(name) {
		case "log":
			backends = append(backends, audit.NewLogBackend(i.logger))
		case "postgres":
			backends = append(backends, audit.NewRepositoryBackend(i.audit))
		case "rabbitmq":
			rmqConfig := rabbitmq.FromAppConfig(cfg.RabbitMQ)
			conn, err := rabbitmq.Connect(ctx, rmqConfig)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			}
			i.rabbitmq = conn
			checker.Register("rabbitmq", conn.HealthCheck)

			retry := connection.DefaultRetryConfig()
			retry.MaxAttempts = 3
			retry.InitialDelay = 100 * time.Millisecond
			retry.MaxDelay = time.Second
			backends = append(backends, audit.NewRabbitMQBackend(rabbitmq.NewProducer(conn, rmqConfig), retry))
			i.logger.Info("Audit events are published to RabbitMQ", logger.String("exchange", cfg.RabbitMQ.Exchange))
		}
	}

	return audit.NewAsyncSink(backends, cfg.Audit.BufferSize, i.logger, audit.WithQueueObserver(appMetrics)), nil
}

// Close закрывает подключения в обратном порядке
func (i *infrastructure) Close() {
	if i.rabbitmq != nil {
		if err := i.rabbitmq.Close(); err != nil {
			i.logger.Error("Failed to close RabbitMQ connection", logger.Error(err))
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			i.logger.Error("Failed to close Redis connection", logger.Error(err))
		}
	}
	if i.db != nil {
		i.db.Close()
	}
}
