package assignments

import "github.com/platinummonkey/grants/pkg/storage"

// activeGrantIndex enforces one active grant per (user, role, scope)
const activeGrantIndex = "uq_role_assignments_active_grant"

// MigrationSet returns the assignment and outbox schema
func MigrationSet() storage.MigrationSet {
	return storage.MigrationSet{
		Component: "assignments",
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create role_assignments table",
				PostgresSQL: `
					CREATE TABLE IF NOT EXISTS role_assignments (
						id BIGSERIAL PRIMARY KEY,
						user_id BIGINT NOT NULL,
						role_id BIGINT NOT NULL,
						scope_kind VARCHAR(16) NOT NULL,
						scope_id BIGINT,
						scope_key VARCHAR(64) NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						status VARCHAR(32) NOT NULL,
						assignment_code VARCHAR(64) NOT NULL UNIQUE,
						confirmation_code VARCHAR(128),
						created_at TIMESTAMPTZ NOT NULL,
						updated_at TIMESTAMPTZ NOT NULL,
						confirmed_at TIMESTAMPTZ,
						verified_at TIMESTAMPTZ,
						revoked_at TIMESTAMPTZ,
						created_by BIGINT,
						CONSTRAINT chk_role_assignments_status CHECK (status IN ('PENDING_CONFIRMATION', 'CONFIRMED', 'VERIFIED', 'REVOKED'))
					);
					CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_active_grant
						ON role_assignments (user_id, role_id, scope_key) WHERE active;
					CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_confirmation_code
						ON role_assignments (confirmation_code) WHERE confirmation_code IS NOT NULL;
					CREATE INDEX IF NOT EXISTS idx_role_assignments_user ON role_assignments (user_id, active);
				`,
				SQLiteSQL: `
					CREATE TABLE IF NOT EXISTS role_assignments (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						user_id INTEGER NOT NULL,
						role_id INTEGER NOT NULL,
						scope_kind TEXT NOT NULL,
						scope_id INTEGER,
						scope_key TEXT NOT NULL,
						active BOOLEAN NOT NULL DEFAULT 1,
						status TEXT NOT NULL CHECK (status IN ('PENDING_CONFIRMATION', 'CONFIRMED', 'VERIFIED', 'REVOKED')),
						assignment_code TEXT NOT NULL UNIQUE,
						confirmation_code TEXT,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						confirmed_at TIMESTAMP,
						verified_at TIMESTAMP,
						revoked_at TIMESTAMP,
						created_by INTEGER
					);
					CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_active_grant
						ON role_assignments (user_id, role_id, scope_key) WHERE active;
					CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_confirmation_code
						ON role_assignments (confirmation_code) WHERE confirmation_code IS NOT NULL;
					CREATE INDEX IF NOT EXISTS idx_role_assignments_user ON role_assignments (user_id, active);
				`,
			},
			{
				Version:     2,
				Description: "Create assignment_notifications outbox",
				PostgresSQL: `
					CREATE TABLE IF NOT EXISTS assignment_notifications (
						id VARCHAR(36) PRIMARY KEY,
						assignment_id BIGINT NOT NULL REFERENCES role_assignments(id) ON DELETE CASCADE,
						user_id BIGINT NOT NULL,
						role_id BIGINT NOT NULL,
						scope_key VARCHAR(64) NOT NULL,
						kind VARCHAR(16) NOT NULL,
						assignment_code VARCHAR(64) NOT NULL,
						confirmation_code VARCHAR(128),
						attempts INT NOT NULL DEFAULT 0,
						next_attempt_at TIMESTAMPTZ NOT NULL,
						created_at TIMESTAMPTZ NOT NULL,
						sent_at TIMESTAMPTZ,
						last_error TEXT
					);
					CREATE INDEX IF NOT EXISTS idx_assignment_notifications_pending
						ON assignment_notifications (next_attempt_at) WHERE sent_at IS NULL;
				`,
				SQLiteSQL: `
					CREATE TABLE IF NOT EXISTS assignment_notifications (
						id TEXT PRIMARY KEY,
						assignment_id INTEGER NOT NULL REFERENCES role_assignments(id) ON DELETE CASCADE,
						user_id INTEGER NOT NULL,
						role_id INTEGER NOT NULL,
						scope_key TEXT NOT NULL,
						kind TEXT NOT NULL,
						assignment_code TEXT NOT NULL,
						confirmation_code TEXT,
						attempts INTEGER NOT NULL DEFAULT 0,
						next_attempt_at TIMESTAMP NOT NULL,
						created_at TIMESTAMP NOT NULL,
						sent_at TIMESTAMP,
						last_error TEXT
					);
					CREATE INDEX IF NOT EXISTS idx_assignment_notifications_pending
						ON assignment_notifications (next_attempt_at) WHERE sent_at IS NULL;
				`,
			},
		},
	}
}
