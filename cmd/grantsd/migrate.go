package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/config"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/observability"
	"github.com/platinummonkey/grants/pkg/storage"
)

func newMigrateCommand(envFile *string) *cobra.Command {
	var syncRoles bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*envFile)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
			return migrate(cmd.Context(), cfg, logger, syncRoles)
		},
	}
	cmd.Flags().BoolVar(&syncRoles, "sync-roles", true, "insert catalog roles missing from the roles table")
	return cmd
}

func migrate(ctx context.Context, cfg *config.Config, logger *observability.Logger, syncRoles bool) error {
	db, dialect, err := storage.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, dialect, logger,
		directory.MigrationSet(),
		assignments.MigrationSet(),
	); err != nil {
		return err
	}
	if !syncRoles {
		return nil
	}

	cat, err := loadCatalog(cfg.Assignments.CatalogPath)
	if err != nil {
		return err
	}
	n, err := directory.SyncRoles(ctx, db, cat)
	if err != nil {
		return fmt.Errorf("syncing roles: %w", err)
	}
	logger.WithField("inserted", n).Info("Catalog roles synced")
	return nil
}
