package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/device"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// ExpiryPolicy правило расчета expires_at при активации
type ExpiryPolicy string

const (
	// ExpiryFixed expires_at считается один раз, при первой активации
	ExpiryFixed ExpiryPolicy = "fixed"
	// ExpiryExtend expires_at пересчитывается при каждом вызове активации
	ExpiryExtend ExpiryPolicy = "extend"
)

// DefaultExpiringDays окно ListExpiring по умолчанию
const DefaultExpiringDays = 7

// EngineConfig параметры движка жизненного цикла
type EngineConfig struct {
	ExpiryPolicy  ExpiryPolicy
	MaxCASRetries int
}

// ConflictObserver учитывает промахи условных обновлений
type ConflictObserver interface {
	ObserveCASConflict(operation string)
}

// Engine движок жизненного цикла лицензий.
// Каждая изменяющая операция это одно чтение, решение над снимком и условная запись.
// При промахе записи снимок перечитывается и решение принимается заново.
// Сбои хранилища не повторяются.
type Engine struct {
	licenses      repository.LicenseRepository
	legacy        repository.LegacyKeyRepository
	strict        device.Registry
	legacyDevices device.Registry

	config   EngineConfig
	clock    func() time.Time
	logger   logger.Logger
	observer ConflictObserver
	tracer   trace.Tracer
}

// EngineOption настраивает Engine
type EngineOption func(*Engine)

// WithClock подменяет источник текущего времени
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithConflictObserver подключает учет промахов условных обновлений
func WithConflictObserver(observer ConflictObserver) EngineOption {
	return func(e *Engine) { e.observer = observer }
}

// WithDeviceRegistries подменяет реестры устройств новой и legacy схем
func WithDeviceRegistries(strict, legacy device.Registry) EngineOption {
	return func(e *Engine) {
		e.strict = strict
		e.legacyDevices = legacy
	}
}

// NewEngine создает движок
func NewEngine(
	licenses repository.LicenseRepository,
	legacy repository.LegacyKeyRepository,
	config EngineConfig,
	log logger.Logger,
	opts ...EngineOption,
) *Engine {
	if config.ExpiryPolicy == "" {
		config.ExpiryPolicy = ExpiryFixed
	}
	if config.MaxCASRetries <= 0 {
		config.MaxCASRetries = 8
	}

	e := &Engine{
		licenses:      licenses,
		legacy:        legacy,
		strict:        device.NewStrictRegistry(),
		legacyDevices: device.NewLegacyRegistry(),
		config:        config,
		clock:         time.Now,
		logger:        log.Named("engine"),
		tracer:        otel.Tracer("license-service/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// decision итог решения над одним снимком: next записывается условно (nil означает
// без записи), err возвращается вызывающему после успешной записи
type decision struct {
	next *domain.LicenseKey
	err  error
}

type decideFunc func(current *domain.LicenseKey, now time.Time) decision

// Authenticate проверка ключа новой схемы для Connect: статус, ленивое истечение,
// регистрация устройства. Первая успешная проверка запускает срок действия.
func (e *Engine) Authenticate(ctx context.Context, appID int64, key, hwid string) (*domain.LicenseKey, error) {
	return e.mutate(ctx, "authenticate", key, func(cur *domain.LicenseKey, now time.Time) decision {
		if cur.AppID != appID {
			return reject(domain.NotFound, domain.ReasonLicenseNotFound)
		}
		if cur.Status != domain.StatusActive {
			return decision{err: domain.StatusRejection(cur.Status)}
		}
		if cur.IsExpiredAt(now) {
			return expire(cur)
		}

		devices, outcome := e.strict.Register(cur.Devices, cur.MaxDevices, hwid)
		if outcome == device.LimitReached {
			return reject(domain.LimitReached, domain.ReasonMaxDeviceLimit)
		}

		next := cur.Clone()
		next.Devices = devices
		startValidity(next, now)
		touch(next, now)
		return decision{next: next}
	})
}

// Validate строгая проверка ключа: устройство должно быть уже зарегистрировано,
// если набор устройств не пуст. appID не обязателен.
func (e *Engine) Validate(ctx context.Context, key string, appID *int64, hwid string) (*domain.LicenseKey, error) {
	return e.mutate(ctx, "validate", key, func(cur *domain.LicenseKey, now time.Time) decision {
		if appID != nil && cur.AppID != *appID {
			return reject(domain.NotFound, domain.ReasonLicenseNotFound)
		}
		if cur.Status != domain.StatusActive {
			return decision{err: domain.StatusRejection(cur.Status)}
		}
		if cur.IsExpiredAt(now) {
			return expire(cur)
		}
		if cur.Devices.Len() > 0 && !e.strict.Contains(cur.Devices, hwid) {
			return reject(domain.DeviceNotAuthorized, domain.ReasonDeviceNotAuthorized)
		}

		next := cur.Clone()
		touch(next, now)
		return decision{next: next}
	})
}

// Activate привязывает ключ к пользователю и устройству. expires_at считается
// по ExpiryPolicy.
func (e *Engine) Activate(ctx context.Context, key string, appID *int64, userID int64, hwid string) (*domain.LicenseKey, error) {
	return e.mutate(ctx, "activate", key, func(cur *domain.LicenseKey, now time.Time) decision {
		if appID != nil && cur.AppID != *appID {
			return reject(domain.NotFound, domain.ReasonLicenseNotFound)
		}
		if cur.Status != domain.StatusActive {
			return decision{err: domain.StatusRejection(cur.Status)}
		}
		if cur.IsExpiredAt(now) {
			return expire(cur)
		}
		if cur.UserID != nil && *cur.UserID != userID {
			return reject(domain.AlreadyBoundToOther, domain.ReasonAlreadyBound)
		}

		devices, outcome := e.strict.Register(cur.Devices, cur.MaxDevices, hwid)
		if outcome == device.LimitReached {
			return reject(domain.LimitReached, domain.ReasonMaxDeviceLimit)
		}

		next := cur.Clone()
		next.Devices = devices
		if next.UserID == nil {
			owner := userID
			next.UserID = &owner
		}
		if e.config.ExpiryPolicy == ExpiryExtend {
			expires := now.AddDate(0, 0, cur.DurationDays)
			next.ExpiresAt = &expires
		}
		startValidity(next, now)
		touch(next, now)
		return decision{next: next}
	})
}

// Suspend административно замораживает ключ
func (e *Engine) Suspend(ctx context.Context, key string) (*domain.LicenseKey, error) {
	return e.mutate(ctx, "suspend", key, func(cur *domain.LicenseKey, now time.Time) decision {
		if cur.Status == domain.StatusSuspended {
			return decision{}
		}
		next := cur.Clone()
		next.Status = domain.StatusSuspended
		return decision{next: next}
	})
}

// ResetDevices очищает набор устройств и снимает привязку к пользователю
func (e *Engine) ResetDevices(ctx context.Context, key string) (*domain.LicenseKey, error) {
	return e.mutate(ctx, "reset_devices", key, func(cur *domain.LicenseKey, now time.Time) decision {
		if cur.Devices.Len() == 0 && cur.UserID == nil {
			return decision{}
		}
		next := cur.Clone()
		next.Devices = nil
		next.DeviceCount = 0
		next.UserID = nil
		return decision{next: next}
	})
}

// ListExpiring активные ключи, срок которых истекает в ближайшие days дней
func (e *Engine) ListExpiring(ctx context.Context, appID *int64, days int) ([]*domain.LicenseKey, error) {
	if days <= 0 {
		days = DefaultExpiringDays
	}
	now := e.clock()
	return e.licenses.ListExpiring(ctx, appID, now, now.AddDate(0, 0, days))
}

// AuthenticateLegacy проверка ключа keys_code. Заблокированный ключ отклоняется до
// любых расчетов срока. Первая успешная проверка фиксирует expired_date, дальше
// дата только сравнивается. Дата и устройство пишутся одной условной записью.
func (e *Engine) AuthenticateLegacy(ctx context.Context, game, userKey, hwid string) (*domain.LegacyKey, error) {
	ctx, span := e.tracer.Start(ctx, "engine.authenticate_legacy",
		trace.WithAttributes(attribute.String("game", game)))
	defer span.End()

	for attempt := 1; attempt <= e.config.MaxCASRetries; attempt++ {
		cur, err := e.legacy.FindByUserKeyAndGame(ctx, userKey, game)
		if err != nil {
			if errors.IsCode(err, errors.ErrNotFound) {
				return nil, domain.Reject(domain.NotFound, domain.ReasonLegacyNotRegistered)
			}
			span.RecordError(err)
			return nil, err
		}

		if cur.Status != domain.LegacyStatusEnabled {
			return nil, domain.Reject(domain.Blocked, domain.ReasonLegacyBlocked)
		}

		now := e.clock()
		next := cur.Clone()
		if cur.ExpiredDate == nil {
			expires := now.AddDate(0, 0, cur.Duration)
			next.ExpiredDate = &expires
		} else if !now.Before(*cur.ExpiredDate) {
			return nil, domain.Reject(domain.Expired, domain.ReasonLegacyExpired)
		}

		devices, outcome := e.legacyDevices.Register(cur.Devices, cur.MaxDevices, hwid)
		switch outcome {
		case device.LimitReached:
			return nil, domain.Reject(domain.LimitReached, domain.ReasonLegacyMaxDevice)
		case device.Accepted:
			next.Devices = devices
		case device.AlreadyRegistered:
			if cur.ExpiredDate != nil {
				return cur, nil
			}
		}

		err = e.legacy.CompareAndSwap(ctx, cur, next)
		if stderrors.Is(err, repository.ErrStale) {
			e.conflict("authenticate_legacy", attempt)
			continue
		}
		if errors.IsCode(err, errors.ErrNotFound) {
			return nil, domain.Reject(domain.NotFound, domain.ReasonLegacyNotRegistered)
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return next, nil
	}

	return nil, errContention("authenticate_legacy")
}

// mutate цикл чтение-решение-условная запись для ключа новой схемы
func (e *Engine) mutate(ctx context.Context, operation, key string, decide decideFunc) (*domain.LicenseKey, error) {
	ctx, span := e.tracer.Start(ctx, "engine."+operation)
	defer span.End()

	for attempt := 1; attempt <= e.config.MaxCASRetries; attempt++ {
		cur, err := e.licenses.FindByKey(ctx, key)
		if err != nil {
			if errors.IsCode(err, errors.ErrNotFound) {
				return nil, domain.Reject(domain.NotFound, domain.ReasonLicenseNotFound)
			}
			span.RecordError(err)
			return nil, err
		}

		d := decide(cur, e.clock())
		if d.next == nil {
			return cur, d.err
		}

		updated, err := e.licenses.Update(ctx, cur.ID, cur.Version, d.next)
		if stderrors.Is(err, repository.ErrStale) {
			e.conflict(operation, attempt)
			continue
		}
		// ключ удален между чтением и записью
		if errors.IsCode(err, errors.ErrNotFound) {
			return nil, domain.Reject(domain.NotFound, domain.ReasonLicenseNotFound)
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if d.next.Status == domain.StatusExpired && cur.Status != domain.StatusExpired {
			e.logger.Info("License expired", logger.CtxField(ctx), logger.Int64("license_id", cur.ID))
		}
		return updated, d.err
	}

	return nil, errContention(operation)
}

func (e *Engine) conflict(operation string, attempt int) {
	if e.observer != nil {
		e.observer.ObserveCASConflict(operation)
	}
	e.logger.Debug("Optimistic update conflict, retrying",
		logger.String("operation", operation),
		logger.Int("attempt", attempt))
}

// errContention все попытки условной записи проиграли конкурентам
func errContention(operation string) error {
	return errors.New(errors.ErrUnavailable, "license is under contention").
		WithDetails(fmt.Sprintf("operation: %s", operation))
}

func reject(code domain.RejectionCode, reason string) decision {
	return decision{err: domain.Reject(code, reason)}
}

// expire ленивое истечение: статус пишется вместе с отказом
func expire(cur *domain.LicenseKey) decision {
	next := cur.Clone()
	next.Status = domain.StatusExpired
	return decision{next: next, err: domain.Reject(domain.Expired, domain.ReasonLicenseExpired)}
}

// startValidity запускает срок действия при первом использовании
func startValidity(next *domain.LicenseKey, now time.Time) {
	if next.ActivatedAt == nil {
		activated := now
		next.ActivatedAt = &activated
	}
	if next.ExpiresAt == nil {
		expires := now.AddDate(0, 0, next.DurationDays)
		next.ExpiresAt = &expires
	}
}

func touch(next *domain.LicenseKey, now time.Time) {
	used := now
	next.LastUsedAt = &used
	next.UsageCount++
}
