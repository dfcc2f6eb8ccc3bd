package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"LicensePlatform/pkg/errors"
)

// uniqueViolation SQLSTATE нарушения уникального индекса
const uniqueViolation = "23505"

// Querier общая часть *pgxpool.Pool и pgx.Tx
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BaseRepository базовая структура для всех репозиториев PostgreSQL.
// Каждый запрос ограничен timeout.
type BaseRepository struct {
	db      Querier
	timeout time.Duration
}

// NewBaseRepository создает новый экземпляр базового репозитория
func NewBaseRepository(db Querier, timeout time.Duration) *BaseRepository {
	return &BaseRepository{db: db, timeout: timeout}
}

func (r *BaseRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// storageError переводит ошибку драйвера в код хранилища. Текст драйвера
// остается только в Cause и наружу не отдается.
func storageError(ctx context.Context, err error, message, details string) error {
	code := errors.ErrUnavailable

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		code = errors.ErrConflict
	}

	return errors.Wrap(err, code, message).WithDetails(details).WithContext(ctx)
}

func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}
