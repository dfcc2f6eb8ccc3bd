package repository

import (
	"context"
	stderrors "errors"
	"time"

	"LicensePlatform/services/license-service/internal/domain"
)

// ErrStale условное обновление не применилось: запись изменилась после чтения.
// Вызывающий перечитывает запись и принимает решение заново.
var ErrStale = stderrors.New("record changed since it was read")

// Ошибки отсутствия записи возвращаются как *errors.Error с кодом NOT_FOUND,
// сбои хранилища с кодом UNAVAILABLE, нарушение уникальности с кодом CONFLICT.

// LicenseRepository ключи новой схемы
type LicenseRepository interface {
	FindByKey(ctx context.Context, key string) (*domain.LicenseKey, error)
	FindByID(ctx context.Context, id int64) (*domain.LicenseKey, error)
	// Insert сохраняет ключ и заполняет ID, Version, CreatedAt
	Insert(ctx context.Context, license *domain.LicenseKey) error
	// Update записывает next, только если версия записи равна expectedVersion.
	// DeviceCount берется из len(next.Devices). При промахе возвращает ErrStale,
	// если записи больше нет, NOT_FOUND.
	Update(ctx context.Context, id int64, expectedVersion int64, next *domain.LicenseKey) (*domain.LicenseKey, error)
	// ListExpiring активные ключи с from < expires_at <= to
	ListExpiring(ctx context.Context, appID *int64, from, to time.Time) ([]*domain.LicenseKey, error)
}

// LegacyKeyRepository ключи таблицы keys_code
type LegacyKeyRepository interface {
	FindByUserKeyAndGame(ctx context.Context, userKey, game string) (*domain.LegacyKey, error)
	// CompareAndSwap записывает devices и expired_date из next, только если в хранилище
	// они совпадают со значениями prev. При промахе возвращает ErrStale, удаленная запись NOT_FOUND.
	CompareAndSwap(ctx context.Context, prev, next *domain.LegacyKey) error
}

// AppRepository приложения разработчиков
type AppRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.App, error)
}

// ResellerAppRepository назначения приложений реселлерам
type ResellerAppRepository interface {
	// FindAssignment возвращает назначение в любом статусе или NOT_FOUND
	FindAssignment(ctx context.Context, resellerID, appID int64) (*domain.ResellerApp, error)
}

// AuditRepository журнал activity_logs
type AuditRepository interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
}
