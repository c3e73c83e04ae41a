package assignments

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/grants/pkg/storage"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore implements Store over PostgreSQL or SQLite
type SQLStore struct {
	db *sql.DB
	q  querier
}

// NewSQLStore creates a store over db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

// WithinTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const assignmentColumns = `id, user_id, role_id, scope_kind, scope_id, active, status, assignment_code,
	confirmation_code, created_at, updated_at, confirmed_at, verified_at, revoked_at, created_by`

// Save inserts a new assignment
func (s *SQLStore) Save(ctx context.Context, a *Assignment) error {
	scope := a.Scope.Normalize()
	query := `
		INSERT INTO role_assignments (user_id, role_id, scope_kind, scope_id, scope_key, active, status,
			assignment_code, confirmation_code, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := s.q.QueryRowContext(ctx, query,
		a.UserID,
		a.RoleID,
		string(scope.Kind),
		scopeIDParam(scope),
		scope.Key(),
		a.Active,
		string(a.Status),
		a.AssignmentCode,
		nullString(a.ConfirmationCode),
		a.CreatedAt,
		a.UpdatedAt,
		a.CreatedBy,
	).Scan(&a.ID)
	if err != nil {
		if isActiveGrantViolation(err) {
			return fmt.Errorf("user %d role %d scope %s: %w", a.UserID, a.RoleID, scope.Key(), ErrDuplicateGrant)
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	a.Scope = scope
	return nil
}

// FindByID retrieves an assignment by id
func (s *SQLStore) FindByID(ctx context.Context, id int64) (*Assignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx,
		"SELECT "+assignmentColumns+" FROM role_assignments WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// FindByAssignmentCode retrieves an assignment by its public code
func (s *SQLStore) FindByAssignmentCode(ctx context.Context, code string) (*Assignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx,
		"SELECT "+assignmentColumns+" FROM role_assignments WHERE assignment_code = $1", code))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// FindActiveByUserScopeRole retrieves the active grant for a triple
func (s *SQLStore) FindActiveByUserScopeRole(ctx context.Context, userID, roleID int64, scope Scope) (*Assignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx,
		"SELECT "+assignmentColumns+` FROM role_assignments
		WHERE user_id = $1 AND role_id = $2 AND scope_key = $3 AND active = TRUE`,
		userID, roleID, scope.Key()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active assignment for user %d role %d scope %s: %w", userID, roleID, scope.Key(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ExistsActiveDuplicate reports whether an active grant exists for a triple
func (s *SQLStore) ExistsActiveDuplicate(ctx context.Context, userID, roleID int64, scope Scope) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM role_assignments
		WHERE user_id = $1 AND role_id = $2 AND scope_key = $3 AND active = TRUE
	`, userID, roleID, scope.Key()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate assignment: %w", err)
	}
	return n > 0, nil
}

// ConsumeConfirmationCode confirms a pending assignment if code matches
func (s *SQLStore) ConsumeConfirmationCode(ctx context.Context, id int64, code, fresh string, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE role_assignments
		SET status = $1, confirmation_code = $2, confirmed_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6 AND confirmation_code = $7 AND active = TRUE
	`, string(StatusConfirmed), fresh, at, at, id, string(StatusPendingConfirmation), code)
	if err != nil {
		return false, fmt.Errorf("failed to confirm assignment: %w", err)
	}
	return affected(res)
}

// ConsumeVerification verifies a confirmed assignment if both codes match
func (s *SQLStore) ConsumeVerification(ctx context.Context, assignmentCode, code string, at time.Time) (int64, bool, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		UPDATE role_assignments
		SET status = $1, confirmation_code = NULL, verified_at = $2, updated_at = $3
		WHERE assignment_code = $4 AND status = $5 AND confirmation_code = $6 AND active = TRUE
		RETURNING id
	`, string(StatusVerified), at, at, assignmentCode, string(StatusConfirmed), code).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to verify assignment: %w", err)
	}
	return id, true, nil
}

// MarkRevoked revokes an active assignment
func (s *SQLStore) MarkRevoked(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE role_assignments
		SET active = FALSE, status = $1, confirmation_code = NULL, revoked_at = $2, updated_at = $3
		WHERE id = $4 AND active = TRUE
	`, string(StatusRevoked), at, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return affected(res)
}

// ReplaceCodes issues new codes for a non-revoked assignment
func (s *SQLStore) ReplaceCodes(ctx context.Context, id int64, confirmationCode, assignmentCode string, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if assignmentCode == "" {
		res, err = s.q.ExecContext(ctx, `
			UPDATE role_assignments SET confirmation_code = $1, updated_at = $2
			WHERE id = $3 AND status <> $4 AND active = TRUE
		`, confirmationCode, at, id, string(StatusRevoked))
	} else {
		res, err = s.q.ExecContext(ctx, `
			UPDATE role_assignments SET confirmation_code = $1, assignment_code = $2, updated_at = $3
			WHERE id = $4 AND status <> $5 AND active = TRUE
		`, confirmationCode, assignmentCode, at, id, string(StatusRevoked))
	}
	if err != nil {
		return false, fmt.Errorf("failed to replace assignment codes: %w", err)
	}
	return affected(res)
}

// Delete removes an inactive assignment and its outbox rows
func (s *SQLStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM role_assignments WHERE id = $1 AND active = FALSE", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete assignment: %w", err)
	}
	return affected(res)
}

// ListForUser returns every assignment of a user, newest first
func (s *SQLStore) ListForUser(ctx context.Context, userID int64) ([]*Assignment, error) {
	return s.list(ctx,
		"SELECT "+assignmentColumns+" FROM role_assignments WHERE user_id = $1 ORDER BY created_at DESC, id DESC",
		userID)
}

// ListActiveForUser returns active assignments, optionally only verified ones
func (s *SQLStore) ListActiveForUser(ctx context.Context, userID int64, verifiedOnly bool) ([]*Assignment, error) {
	if verifiedOnly {
		return s.list(ctx,
			"SELECT "+assignmentColumns+" FROM role_assignments WHERE user_id = $1 AND active = TRUE AND status = $2 ORDER BY id",
			userID, string(StatusVerified))
	}
	return s.list(ctx,
		"SELECT "+assignmentColumns+" FROM role_assignments WHERE user_id = $1 AND active = TRUE ORDER BY id",
		userID)
}

func (s *SQLStore) list(ctx context.Context, query string, args ...interface{}) ([]*Assignment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const notificationColumns = `id, assignment_id, user_id, role_id, scope_key, kind, assignment_code,
	confirmation_code, attempts, next_attempt_at, created_at, sent_at, last_error`

// EnqueueNotification writes an outbox row
func (s *SQLStore) EnqueueNotification(ctx context.Context, n *Notification) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignment_notifications (id, assignment_id, user_id, role_id, scope_key, kind,
			assignment_code, confirmation_code, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		n.ID,
		n.AssignmentID,
		n.UserID,
		n.RoleID,
		n.ScopeKey,
		string(n.Kind),
		n.AssignmentCode,
		nullString(n.ConfirmationCode),
		n.Attempts,
		n.NextAttemptAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// FindNotification retrieves an outbox row
func (s *SQLStore) FindNotification(ctx context.Context, id string) (*Notification, error) {
	n, err := scanNotification(s.q.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM assignment_notifications WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// PendingNotifications returns unsent rows due at now, oldest first
func (s *SQLStore) PendingNotifications(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Notification, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+notificationColumns+`
		FROM assignment_notifications
		WHERE sent_at IS NULL AND next_attempt_at <= $1 AND attempts < $2
		ORDER BY next_attempt_at, created_at
		LIMIT $3
	`, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountPendingNotifications counts unsent rows that may still be retried
func (s *SQLStore) CountPendingNotifications(ctx context.Context, maxAttempts int) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM assignment_notifications WHERE sent_at IS NULL AND attempts < $1", maxAttempts,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationSent records delivery and drops the stored code
func (s *SQLStore) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE assignment_notifications
		SET sent_at = $1, confirmation_code = NULL, attempts = attempts + 1, last_error = NULL
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed records a failed attempt and when to retry
func (s *SQLStore) MarkNotificationFailed(ctx context.Context, id, reason string, nextAttempt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE assignment_notifications
		SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2
		WHERE id = $3
	`, reason, nextAttempt, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	var (
		a                                   Assignment
		kind, status                        string
		scopeID, createdBy                  sql.NullInt64
		confirmationCode                    sql.NullString
		confirmedAt, verifiedAt, revokedAt sql.NullTime
	)

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.RoleID,
		&kind,
		&scopeID,
		&a.Active,
		&status,
		&a.AssignmentCode,
		&confirmationCode,
		&a.CreatedAt,
		&a.UpdatedAt,
		&confirmedAt,
		&verifiedAt,
		&revokedAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.Scope = Scope{Kind: ScopeKind(kind)}
	if scopeID.Valid {
		a.Scope.ID = scopeID.Int64
	}
	a.ConfirmationCode = confirmationCode.String
	a.ConfirmedAt = timePtr(confirmedAt)
	a.VerifiedAt = timePtr(verifiedAt)
	a.RevokedAt = timePtr(revokedAt)
	if createdBy.Valid {
		a.CreatedBy = &createdBy.Int64
	}
	return &a, nil
}

func scanNotification(row rowScanner) (*Notification, error) {
	var (
		n                           Notification
		kind                        string
		confirmationCode, lastError sql.NullString
		sentAt                      sql.NullTime
	)

	err := row.Scan(
		&n.ID,
		&n.AssignmentID,
		&n.UserID,
		&n.RoleID,
		&n.ScopeKey,
		&kind,
		&n.AssignmentCode,
		&confirmationCode,
		&n.Attempts,
		&n.NextAttemptAt,
		&n.CreatedAt,
		&sentAt,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	n.Kind = NotificationKind(kind)
	n.ConfirmationCode = confirmationCode.String
	n.LastError = lastError.String
	n.SentAt = timePtr(sentAt)
	return &n, nil
}

// isActiveGrantViolation distinguishes the one-active-grant index from the
// code uniqueness constraints. PostgreSQL names the index; SQLite names the
// columns.
func isActiveGrantViolation(err error) bool {
	desc, ok := storage.IsUniqueViolation(err)
	if !ok {
		return false
	}
	return strings.Contains(desc, activeGrantIndex) || strings.Contains(desc, "scope_key")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func scopeIDParam(s Scope) sql.NullInt64 {
	return sql.NullInt64{Int64: s.ID, Valid: !s.IsGlobal()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*SQLStore)(nil)
