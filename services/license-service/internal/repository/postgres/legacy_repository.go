package postgres

import (
	"context"
	"fmt"
	"time"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// LegacyKeyRepository реализация репозитория keys_code. Схема таблицы не меняется,
// поэтому условное обновление сравнивает сами поля devices и expired_date.
type LegacyKeyRepository struct {
	*BaseRepository
}

// NewLegacyKeyRepository создает новый экземпляр LegacyKeyRepository
func NewLegacyKeyRepository(db Querier, timeout time.Duration) repository.LegacyKeyRepository {
	return &LegacyKeyRepository{BaseRepository: NewBaseRepository(db, timeout)}
}

// FindByUserKeyAndGame возвращает ключ по паре (user_key, game)
func (r *LegacyKeyRepository) FindByUserKeyAndGame(ctx context.Context, userKey, game string) (*domain.LegacyKey, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id_keys, user_key, game, status, duration, expired_date, max_devices, devices
		FROM keys_code
		WHERE user_key = $1 AND game = $2
		LIMIT 1
	`

	var key domain.LegacyKey
	var devices *string
	err := r.db.QueryRow(ctx, query, userKey, game).Scan(
		&key.ID,
		&key.UserKey,
		&key.Game,
		&key.Status,
		&key.Duration,
		&key.ExpiredDate,
		&key.MaxDevices,
		&devices,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.New(errors.ErrNotFound, "legacy key not found").
				WithDetails(fmt.Sprintf("game: %s", game)).
				WithContext(ctx)
		}
		return nil, storageError(ctx, err, "failed to find legacy key", fmt.Sprintf("game: %s", game))
	}

	key.Devices = decodeLegacyDevices(devices)
	return &key, nil
}

// CompareAndSwap записывает devices и expired_date, если они не изменились с момента чтения prev
func (r *LegacyKeyRepository) CompareAndSwap(ctx context.Context, prev, next *domain.LegacyKey) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE keys_code
		SET devices = $2, expired_date = $3, updated_at = NOW()
		WHERE id_keys = $1
			AND COALESCE(devices, '') = $4
			AND expired_date IS NOT DISTINCT FROM $5
	`

	tag, err := r.db.Exec(ctx, query,
		prev.ID,
		encodeLegacyDevices(next.Devices),
		next.ExpiredDate,
		encodeLegacyDevices(prev.Devices),
		prev.ExpiredDate,
	)
	if err != nil {
		return storageError(ctx, err, "failed to update legacy key", fmt.Sprintf("id_keys: %d", prev.ID))
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM keys_code WHERE id_keys = $1)`, prev.ID).Scan(&exists)
		if err != nil {
			return storageError(ctx, err, "failed to update legacy key", fmt.Sprintf("id_keys: %d", prev.ID))
		}
		if !exists {
			return errors.New(errors.ErrNotFound, "legacy key not found").
				WithDetails(fmt.Sprintf("id_keys: %d", prev.ID)).
				WithContext(ctx)
		}
		return repository.ErrStale
	}
	return nil
}
