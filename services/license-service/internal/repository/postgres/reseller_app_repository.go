package postgres

import (
	"context"
	"fmt"
	"time"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// ResellerAppRepository чтение таблицы reseller_apps
type ResellerAppRepository struct {
	*BaseRepository
}

// NewResellerAppRepository создает новый экземпляр ResellerAppRepository
func NewResellerAppRepository(db Querier, timeout time.Duration) repository.ResellerAppRepository {
	return &ResellerAppRepository{BaseRepository: NewBaseRepository(db, timeout)}
}

// FindAssignment возвращает назначение приложения реселлеру
func (r *ResellerAppRepository) FindAssignment(ctx context.Context, resellerID, appID int64) (*domain.ResellerApp, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, reseller_id, app_id, developer_id, status, created_at
		FROM reseller_apps
		WHERE reseller_id = $1 AND app_id = $2
	`

	var assignment domain.ResellerApp
	err := r.db.QueryRow(ctx, query, resellerID, appID).Scan(
		&assignment.ID,
		&assignment.ResellerID,
		&assignment.AppID,
		&assignment.DeveloperID,
		&assignment.Status,
		&assignment.CreatedAt,
	)
	if err != nil {
		details := fmt.Sprintf("reseller_id: %d, app_id: %d", resellerID, appID)
		if isNoRows(err) {
			return nil, errors.New(errors.ErrNotFound, "reseller assignment not found").
				WithDetails(details).
				WithContext(ctx)
		}
		return nil, storageError(ctx, err, "failed to find reseller assignment", details)
	}
	return &assignment, nil
}
