package postgres

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"LicensePlatform/pkg/logger"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

func migrationsFS() (fs.FS, error) {
	fsys, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	return fsys, nil
}

// Migrations возвращает имена файлов миграций в порядке применения
func Migrations() ([]string, error) {
	fsys, err := migrationsFS()
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	return names, nil
}

// Migrate применяет непримененные миграции через goose. Версии хранятся в goose_db_version,
// каждая миграция выполняется в своей транзакции. Возвращает число примененных.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log logger.Logger) (int, error) {
	fsys, err := migrationsFS()
	if err != nil {
		return 0, err
	}

	// закрытие *sql.DB не закрывает пул
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		var partial *goose.PartialError
		if stderrors.As(err, &partial) {
			results = partial.Applied
		}
	}

	for _, result := range results {
		log.Info("Migration applied",
			logger.String("name", result.Source.Path),
			logger.Duration("duration", result.Duration))
	}
	if err != nil {
		return len(results), fmt.Errorf("failed to apply migrations: %w", err)
	}
	return len(results), nil
}
