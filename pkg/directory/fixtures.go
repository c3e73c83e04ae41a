package directory

import (
	"context"
	"database/sql"
	"fmt"
)

// Fixtures inserts directory rows for development databases and tests.
// Production directories are populated by the identity service.
type Fixtures struct {
	db *sql.DB
}

// NewFixtures creates a fixture writer over db
func NewFixtures(db *sql.DB) *Fixtures {
	return &Fixtures{db: db}
}

// User inserts a user and returns its id
func (f *Fixtures) User(ctx context.Context, displayName, email, phone string) (int64, error) {
	return f.insert(ctx,
		"INSERT INTO users (display_name, email, phone) VALUES ($1, $2, $3) RETURNING id",
		displayName, nullIfEmpty(email), nullIfEmpty(phone))
}

// Role inserts a role and returns its id
func (f *Fixtures) Role(ctx context.Context, code, displayName string) (int64, error) {
	return f.insert(ctx,
		"INSERT INTO roles (code, display_name) VALUES ($1, $2) RETURNING id", code, displayName)
}

// Organization inserts an organization and returns its id
func (f *Fixtures) Organization(ctx context.Context, name string) (int64, error) {
	return f.insert(ctx, "INSERT INTO organizations (name) VALUES ($1) RETURNING id", name)
}

// Hospital inserts a hospital and returns its id. organizationID may be nil.
func (f *Fixtures) Hospital(ctx context.Context, name string, organizationID *int64) (int64, error) {
	return f.insert(ctx,
		"INSERT INTO hospitals (name, organization_id) VALUES ($1, $2) RETURNING id", name, organizationID)
}

func (f *Fixtures) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := f.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert fixture: %w", err)
	}
	return id, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
