// Package storage opens the SQL and Redis connections used by grantsd and
// applies schema migrations.
//
// Two SQL dialects are supported: PostgreSQL (lib/pq) for production and
// SQLite (mattn/go-sqlite3) for development and tests. Queries use $n
// placeholders, which both drivers accept as long as they first appear in
// increasing order.
//
//	db, dialect, err := storage.OpenDB(ctx, cfg.Database)
//	err = storage.RunMigrations(ctx, db, dialect, logger,
//		directory.MigrationSet(), assignments.MigrationSet())
package storage
