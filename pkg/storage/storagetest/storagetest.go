// Package storagetest provides database helpers for tests.
package storagetest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/grants/pkg/observability"
	"github.com/platinummonkey/grants/pkg/storage"
)

var sqliteSeq atomic.Int64

// OpenSQLite returns a migrated, private in-memory SQLite database.
// The pool holds one connection so concurrent callers serialize like
// writers on a single-file database.
func OpenSQLite(t *testing.T, sets ...storage.MigrationSet) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:grants_test_%d?mode=memory&cache=shared&_foreign_keys=1", sqliteSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(context.Background(), db, storage.SQLite, observability.NewNopLogger(), sets...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// SkipIfNoDatabase skips the test if TEST_POSTGRES_URL is not set.
// This allows tests to run in CI where the database is available, but skip locally if not configured.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_URL")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_URL environment variable not set (database not available)")
	}
	return dbURL
}

// RequirePostgres connects to TEST_POSTGRES_URL and applies sets, or skips.
func RequirePostgres(t *testing.T, sets ...storage.MigrationSet) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)
	return OpenPostgres(t, dbURL, sets...)
}

// OpenPostgres connects to dbURL and applies sets, skipping if unreachable.
func OpenPostgres(t *testing.T, dbURL string, sets ...storage.MigrationSet) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(context.Background(), db, storage.Postgres, observability.NewNopLogger(), sets...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}
