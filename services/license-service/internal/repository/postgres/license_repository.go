package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

const licenseColumns = `
	id, license_key, app_id, developer_id, reseller_id, user_id, key_type,
	max_devices, duration_days, price, status, activated_at, expires_at,
	devices, device_count, last_used, usage_count, version, created_at, updated_at`

// LicenseRepository реализация репозитория license_keys
type LicenseRepository struct {
	*BaseRepository
}

// NewLicenseRepository создает новый экземпляр LicenseRepository
func NewLicenseRepository(db Querier, timeout time.Duration) repository.LicenseRepository {
	return &LicenseRepository{BaseRepository: NewBaseRepository(db, timeout)}
}

// FindByKey возвращает ключ по строке ключа
func (r *LicenseRepository) FindByKey(ctx context.Context, key string) (*domain.LicenseKey, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + licenseColumns + ` FROM license_keys WHERE license_key = $1`
	license, err := scanLicense(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.New(errors.ErrNotFound, "license not found").WithContext(ctx)
		}
		return nil, storageError(ctx, err, "failed to find license", "lookup by key")
	}
	return license, nil
}

// FindByID возвращает ключ по ID
func (r *LicenseRepository) FindByID(ctx context.Context, id int64) (*domain.LicenseKey, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + licenseColumns + ` FROM license_keys WHERE id = $1`
	license, err := scanLicense(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.New(errors.ErrNotFound, "license not found").
				WithDetails(fmt.Sprintf("license_id: %d", id)).
				WithContext(ctx)
		}
		return nil, storageError(ctx, err, "failed to find license", fmt.Sprintf("license_id: %d", id))
	}
	return license, nil
}

// Insert создает новый ключ. Повтор строки ключа дает ErrConflict.
func (r *LicenseRepository) Insert(ctx context.Context, license *domain.LicenseKey) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	devices, err := encodeDevices(license.Devices)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to insert license")
	}

	query := `
		INSERT INTO license_keys (license_key, app_id, developer_id, reseller_id, user_id, key_type,
			max_devices, duration_days, price, status, activated_at, expires_at,
			devices, device_count, last_used, usage_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, NOW(), NOW())
		RETURNING id, version, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		license.Key,
		license.AppID,
		license.DeveloperID,
		license.ResellerID,
		license.UserID,
		license.KeyType,
		license.MaxDevices,
		license.DurationDays,
		license.Price,
		license.Status,
		license.ActivatedAt,
		license.ExpiresAt,
		devices,
		license.Devices.Len(),
		license.LastUsedAt,
		license.UsageCount,
	).Scan(&license.ID, &license.Version, &license.CreatedAt, &license.UpdatedAt)
	if err != nil {
		return storageError(ctx, err, "failed to insert license", fmt.Sprintf("app_id: %d", license.AppID))
	}

	license.DeviceCount = license.Devices.Len()
	return nil
}

// Update условно записывает изменяемые поля ключа. Промах по версии дает repository.ErrStale,
// удаленная запись NOT_FOUND.
func (r *LicenseRepository) Update(ctx context.Context, id int64, expectedVersion int64, next *domain.LicenseKey) (*domain.LicenseKey, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	devices, err := encodeDevices(next.Devices)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to update license")
	}

	query := `
		UPDATE license_keys
		SET user_id = $3, status = $4, activated_at = $5, expires_at = $6,
			devices = $7, device_count = $8, last_used = $9, usage_count = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + licenseColumns

	updated, err := scanLicense(r.db.QueryRow(ctx, query,
		id,
		expectedVersion,
		next.UserID,
		next.Status,
		next.ActivatedAt,
		next.ExpiresAt,
		devices,
		next.Devices.Len(),
		next.LastUsedAt,
		next.UsageCount,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, r.staleOrMissing(ctx, id)
		}
		return nil, storageError(ctx, err, "failed to update license", fmt.Sprintf("license_id: %d", id))
	}
	return updated, nil
}

// staleOrMissing различает проигранную гонку и удаленную строку
func (r *LicenseRepository) staleOrMissing(ctx context.Context, id int64) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM license_keys WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return storageError(ctx, err, "failed to update license", fmt.Sprintf("license_id: %d", id))
	}
	if !exists {
		return errors.New(errors.ErrNotFound, "license not found").
			WithDetails(fmt.Sprintf("license_id: %d", id)).
			WithContext(ctx)
	}
	return repository.ErrStale
}

// ListExpiring возвращает активные ключи, срок которых истекает в (from, to]
func (r *LicenseRepository) ListExpiring(ctx context.Context, appID *int64, from, to time.Time) ([]*domain.LicenseKey, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + licenseColumns + `
		FROM license_keys
		WHERE status = 'active' AND expires_at > $1 AND expires_at <= $2
			AND ($3::BIGINT IS NULL OR app_id = $3)
		ORDER BY expires_at ASC`

	rows, err := r.db.Query(ctx, query, from, to, appID)
	if err != nil {
		return nil, storageError(ctx, err, "failed to list expiring licenses", "")
	}
	defer rows.Close()

	var licenses []*domain.LicenseKey
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, storageError(ctx, err, "failed to scan license", "")
		}
		licenses = append(licenses, license)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(ctx, err, "failed to iterate licenses", "")
	}
	return licenses, nil
}

func scanLicense(row pgx.Row) (*domain.LicenseKey, error) {
	var license domain.LicenseKey
	var devices *string

	err := row.Scan(
		&license.ID,
		&license.Key,
		&license.AppID,
		&license.DeveloperID,
		&license.ResellerID,
		&license.UserID,
		&license.KeyType,
		&license.MaxDevices,
		&license.DurationDays,
		&license.Price,
		&license.Status,
		&license.ActivatedAt,
		&license.ExpiresAt,
		&devices,
		&license.DeviceCount,
		&license.LastUsedAt,
		&license.UsageCount,
		&license.Version,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	license.Devices, err = decodeDevices(devices)
	if err != nil {
		return nil, err
	}
	// device_count кэш, источник истины сам набор
	license.DeviceCount = license.Devices.Len()
	return &license, nil
}
