package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budgetgate/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

An existing database is checkpointed first so a failed migration can be
rolled back with "budgetgate checkpoint restore".`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	cmd.Flags().Bool("no-checkpoint", false, "Skip the automatic checkpoint")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	statusOnly, _ := cmd.Flags().GetBool("status")
	noCheckpoint, _ := cmd.Flags().GetBool("no-checkpoint")

	_, statErr := os.Stat(cfg.Database.Path)
	existed := statErr == nil

	store, err := storage.NewSQLiteStorage(cfg.Database.Path, storage.WithQueryTimeout(cfg.Database.QueryTimeout))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if statusOnly {
		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\nCurrent version: %d\nLatest version: %d\n",
			cfg.Database.Path, current, storage.ExpectedSchemaVersion)
		return nil
	}

	if current == storage.ExpectedSchemaVersion {
		slog.Info("Database schema is up to date", "version", current)
		return nil
	}

	if existed && !noCheckpoint {
		manager, err := store.NewCheckpointManager()
		if err != nil && !errors.Is(err, storage.ErrInMemoryDatabase) {
			return fmt.Errorf("failed to create checkpoint manager: %w", err)
		}
		if manager != nil {
			info, err := manager.AutoCheckpoint(ctx, "migrate")
			if err != nil {
				return err
			}
			slog.Info("Checkpoint created before migration", "checkpoint", info.ID)
		}
	}

	slog.Info("Running database migrations",
		"database", cfg.Database.Path,
		"from_version", current,
		"to_version", storage.ExpectedSchemaVersion)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Database migrations completed")
	return nil
}
