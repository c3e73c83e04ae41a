package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/grants/pkg/observability"
)

// Migration represents a database migration. SQL is the portable statement;
// PostgresSQL and SQLiteSQL override it for one dialect.
type Migration struct {
	Version     int
	Description string
	SQL         string
	PostgresSQL string
	SQLiteSQL   string
}

// Statement returns the migration body for dialect
func (m Migration) Statement(dialect Dialect) string {
	switch {
	case dialect == Postgres && m.PostgresSQL != "":
		return m.PostgresSQL
	case dialect == SQLite && m.SQLiteSQL != "":
		return m.SQLiteSQL
	default:
		return m.SQL
	}
}

// MigrationSet is an ordered list of migrations owned by one component
type MigrationSet struct {
	Component  string
	Migrations []Migration
}

// RunMigrations applies every pending migration of each set, in order.
// Each migration runs and is recorded in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *observability.Logger, sets ...MigrationSet) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			component VARCHAR(64) NOT NULL,
			version INT NOT NULL,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			PRIMARY KEY (component, version)
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, set := range sets {
		applied, err := appliedVersions(ctx, db, set.Component)
		if err != nil {
			return err
		}

		migrations := append([]Migration(nil), set.Migrations...)
		sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

		for _, m := range migrations {
			if applied[m.Version] {
				continue
			}

			log := logger.WithFields(map[string]interface{}{
				"component": set.Component,
				"version":   m.Version,
			})
			log.Infof("Running migration: %s", m.Description)

			if err := applyMigration(ctx, db, dialect, set.Component, m); err != nil {
				return err
			}
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE component = $1", component)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, component string, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Statement(dialect)); err != nil {
		return fmt.Errorf("failed to execute %s migration %d: %w", component, m.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (component, version, description, applied_at) VALUES ($1, $2, $3, $4)",
		component, m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record %s migration %d: %w", component, m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s migration %d: %w", component, m.Version, err)
	}
	return nil
}
