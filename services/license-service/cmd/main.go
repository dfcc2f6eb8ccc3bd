package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"LicensePlatform/pkg/config"
	"LicensePlatform/pkg/logger"
)

const serviceName = "license-service"

// version подставляется при сборке через -ldflags
var version = "1.0.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "License Service - выпуск, активация и проверка лицензионных ключей",
	Long: `License Service обслуживает клиентов через /connect (новая и унаследованная схема ключей),
отдает REST API для проверки и активации лицензий и административные операции выпуска ключей.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file (yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(adminTokenCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadRuntime загружает конфигурацию и создает логгер
func loadRuntime() (*config.Config, logger.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, appLogger, nil
}

func syncLogger(appLogger logger.Logger) {
	if err := appLogger.Sync(); err != nil {
		log.Printf("Error syncing logger: %v", err)
	}
}
