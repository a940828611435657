package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"surveySync/internal/config"
	"surveySync/internal/storage/postgres"
	"surveySync/internal/storage/sqlite"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var applied int
	if cfg.CheckpointBackend == config.BackendSQLite {
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(logger); err != nil {
			return err
		}
		applied++
	}

	if cfg.CheckpointBackend == config.BackendPostgres && cfg.PostgresDSN == "" {
		return fmt.Errorf("pg-dsn is required for the postgres backend")
	}
	if cfg.PostgresDSN != "" && (cfg.CheckpointBackend == config.BackendPostgres || cfg.RecordsBackend == config.BackendPostgres) {
		store, err := postgres.NewStore(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(logger); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		logger.Info("nothing to migrate", zap.String("checkpoint_backend", cfg.CheckpointBackend), zap.String("records_backend", cfg.RecordsBackend))
		return nil
	}
	logger.Info("migrations applied", zap.Int("databases", applied))
	return nil
}
