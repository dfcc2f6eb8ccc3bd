package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"LicensePlatform/pkg/config"
	"LicensePlatform/pkg/database"
	"LicensePlatform/pkg/logger"

	"LicensePlatform/services/license-service/internal/keygen"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/repository/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer syncLogger(appLogger)

		if cfg.Storage.Driver != "postgres" {
			return fmt.Errorf("migrations require storage.driver=postgres, got %q", cfg.Storage.Driver)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		db, err := database.Connect(ctx, database.FromAppConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer db.Close()

		applied, err := postgres.Migrate(ctx, db.Pool, appLogger)
		if err != nil {
			return err
		}
		appLogger.Info("Migrations applied", logger.Int("count", applied))
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
		return nil
	},
}

var keygenCount int

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Сгенерировать ключи в формате KP-XXXXX-XXXXX-XXXXX-XXXXX без сохранения",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenCount < 1 || keygenCount > 100 {
			return fmt.Errorf("count must be between 1 and 100")
		}
		generator := keygen.NewGenerator()
		for i := 0; i < keygenCount; i++ {
			key, err := generator.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	},
}

var (
	tokenRole        string
	tokenSubject     string
	tokenDeveloperID int64
	tokenResellerID  int64
	tokenTTL         time.Duration
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Выпустить административный JWT для /api/v1/licenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if tokenRole == jwt.RoleDeveloper && tokenDeveloperID == 0 {
			return fmt.Errorf("--developer-id is required for role %s", jwt.RoleDeveloper)
		}
		if tokenRole == jwt.RoleReseller && tokenResellerID == 0 {
			return fmt.Errorf("--reseller-id is required for role %s", jwt.RoleReseller)
		}

		manager := jwt.NewManager(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminJWTIssuer, tokenTTL)
		signed, err := manager.Generate(tokenSubject, tokenRole, tokenDeveloperID, tokenResellerID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config [file]",
	Short: "Записать конфигурацию по умолчанию в файл",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Default().Save(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", args[0])
		return nil
	},
}

func init() {
	keygenCmd.Flags().IntVarP(&keygenCount, "count", "n", 1, "number of keys (1..100)")

	adminTokenCmd.Flags().StringVar(&tokenRole, "role", jwt.RoleAdmin, "admin, developer or reseller")
	adminTokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	adminTokenCmd.Flags().Int64Var(&tokenDeveloperID, "developer-id", 0, "developer id for role developer")
	adminTokenCmd.Flags().Int64Var(&tokenResellerID, "reseller-id", 0, "reseller id for role reseller")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
