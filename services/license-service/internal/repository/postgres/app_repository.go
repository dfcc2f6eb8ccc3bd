package postgres

import (
	"context"
	"fmt"
	"time"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// AppRepository чтение таблицы apps
type AppRepository struct {
	*BaseRepository
}

// NewAppRepository создает новый экземпляр AppRepository
func NewAppRepository(db Querier, timeout time.Duration) repository.AppRepository {
	return &AppRepository{BaseRepository: NewBaseRepository(db, timeout)}
}

// FindByID возвращает приложение по ID
func (r *AppRepository) FindByID(ctx context.Context, id int64) (*domain.App, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, app_name, COALESCE(app_description, ''), COALESCE(current_version, ''), status,
			maintenance_mode, COALESCE(maintenance_message, ''), developer_id,
			global_maintenance, COALESCE(global_maintenance_message, '')
		FROM apps
		WHERE id = $1
	`

	var app domain.App
	err := r.db.QueryRow(ctx, query, id).Scan(
		&app.ID,
		&app.Name,
		&app.Description,
		&app.Version,
		&app.Status,
		&app.MaintenanceMode,
		&app.MaintenanceMessage,
		&app.DeveloperID,
		&app.GlobalMaintenance,
		&app.GlobalMaintenanceMessage,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.New(errors.ErrNotFound, "app not found").
				WithDetails(fmt.Sprintf("app_id: %d", id)).
				WithContext(ctx)
		}
		return nil, storageError(ctx, err, "failed to find app", fmt.Sprintf("app_id: %d", id))
	}
	return &app, nil
}
