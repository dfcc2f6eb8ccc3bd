package postgres

import (
	"context"
	"time"

	"LicensePlatform/services/license-service/internal/domain"
	"LicensePlatform/services/license-service/internal/repository"
)

// AuditRepository запись в activity_logs
type AuditRepository struct {
	*BaseRepository
}

// NewAuditRepository создает новый экземпляр AuditRepository
func NewAuditRepository(db Querier, timeout time.Duration) repository.AuditRepository {
	return &AuditRepository{BaseRepository: NewBaseRepository(db, timeout)}
}

// Insert добавляет запись журнала. user_id не заполняется: клиент не аутентифицирован.
func (r *AuditRepository) Insert(ctx context.Context, event *domain.AuditEvent) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO activity_logs (user_id, action, description, ip_address, event_id, outcome, reason, created_at)
		VALUES (NULL, 'license_auth', $1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query,
		event.Description,
		event.IPAddress,
		event.ID,
		event.Outcome,
		event.Reason,
		event.CreatedAt,
	)
	if err != nil {
		return storageError(ctx, err, "failed to insert audit event", event.ID)
	}
	return nil
}
