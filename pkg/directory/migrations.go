package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/storage"
)

// MigrationSet returns the directory schema. In production these tables are
// owned by the identity service and shared read-only; the migrations exist so
// development and test databases are self-contained.
func MigrationSet() storage.MigrationSet {
	return storage.MigrationSet{
		Component: "directory",
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create users table",
				PostgresSQL: `
					CREATE TABLE IF NOT EXISTS users (
						id BIGSERIAL PRIMARY KEY,
						display_name VARCHAR(255) NOT NULL,
						email VARCHAR(320),
						phone VARCHAR(32)
					);
					CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users (LOWER(email));
				`,
				SQLiteSQL: `
					CREATE TABLE IF NOT EXISTS users (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						display_name TEXT NOT NULL,
						email TEXT,
						phone TEXT
					);
					CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users (LOWER(email));
				`,
			},
			{
				Version:     2,
				Description: "Create roles table",
				PostgresSQL: `
					CREATE TABLE IF NOT EXISTS roles (
						id BIGSERIAL PRIMARY KEY,
						code VARCHAR(64) NOT NULL UNIQUE,
						display_name VARCHAR(255) NOT NULL
					);
				`,
				SQLiteSQL: `
					CREATE TABLE IF NOT EXISTS roles (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						code TEXT NOT NULL UNIQUE,
						display_name TEXT NOT NULL
					);
				`,
			},
			{
				Version:     3,
				Description: "Create organizations and hospitals tables",
				PostgresSQL: `
					CREATE TABLE IF NOT EXISTS organizations (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(255) NOT NULL
					);
					CREATE TABLE IF NOT EXISTS hospitals (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						organization_id BIGINT REFERENCES organizations(id) ON DELETE SET NULL
					);
					CREATE INDEX IF NOT EXISTS idx_hospitals_organization_id ON hospitals(organization_id);
				`,
				SQLiteSQL: `
					CREATE TABLE IF NOT EXISTS organizations (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL
					);
					CREATE TABLE IF NOT EXISTS hospitals (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						organization_id INTEGER REFERENCES organizations(id) ON DELETE SET NULL
					);
					CREATE INDEX IF NOT EXISTS idx_hospitals_organization_id ON hospitals(organization_id);
				`,
			},
		},
	}
}

// SyncRoles inserts a roles row for every catalog entry that has none and
// refreshes display names of existing ones. Returns the number of new rows.
func SyncRoles(ctx context.Context, db *sql.DB, cat *catalog.Catalog) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	created := 0
	for _, e := range cat.Entries() {
		res, err := tx.ExecContext(ctx,
			"UPDATE roles SET display_name = $1 WHERE code = $2", cat.DisplayName(e.Code), e.Code)
		if err != nil {
			return 0, fmt.Errorf("failed to update role %s: %w", e.Code, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO roles (code, display_name) VALUES ($1, $2)", e.Code, cat.DisplayName(e.Code)); err != nil {
			return 0, fmt.Errorf("failed to create role %s: %w", e.Code, err)
		}
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit role sync: %w", err)
	}
	return created, nil
}
