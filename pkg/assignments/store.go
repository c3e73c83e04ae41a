package assignments

import (
	"context"
	"time"
)

// Store persists assignments and their notification outbox.
//
// The transition methods are conditional updates: they report false when the
// row was not in the state the update requires, and never read-then-write.
type Store interface {
	// WithinTx runs fn against a store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// Save inserts a new assignment and sets its ID. A concurrent or
	// existing active grant for the same triple yields ErrDuplicateGrant.
	Save(ctx context.Context, a *Assignment) error
	FindByID(ctx context.Context, id int64) (*Assignment, error)
	FindByAssignmentCode(ctx context.Context, code string) (*Assignment, error)
	FindActiveByUserScopeRole(ctx context.Context, userID, roleID int64, scope Scope) (*Assignment, error)
	ExistsActiveDuplicate(ctx context.Context, userID, roleID int64, scope Scope) (bool, error)

	// ConsumeConfirmationCode moves a pending assignment holding code to
	// CONFIRMED and stores fresh as its next confirmation code.
	ConsumeConfirmationCode(ctx context.Context, id int64, code, fresh string, at time.Time) (bool, error)
	// ConsumeVerification moves a confirmed assignment holding both codes to
	// VERIFIED and clears its confirmation code. Returns the assignment id.
	ConsumeVerification(ctx context.Context, assignmentCode, code string, at time.Time) (int64, bool, error)
	// MarkRevoked deactivates an active assignment
	MarkRevoked(ctx context.Context, id int64, at time.Time) (bool, error)
	// ReplaceCodes swaps the confirmation code of a non-revoked assignment.
	// An empty assignmentCode keeps the current one.
	ReplaceCodes(ctx context.Context, id int64, confirmationCode, assignmentCode string, at time.Time) (bool, error)
	// Delete hard deletes an inactive assignment
	Delete(ctx context.Context, id int64) (bool, error)

	ListForUser(ctx context.Context, userID int64) ([]*Assignment, error)
	ListActiveForUser(ctx context.Context, userID int64, verifiedOnly bool) ([]*Assignment, error)

	EnqueueNotification(ctx context.Context, n *Notification) error
	FindNotification(ctx context.Context, id string) (*Notification, error)
	PendingNotifications(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Notification, error)
	CountPendingNotifications(ctx context.Context, maxAttempts int) (int, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id, reason string, nextAttempt time.Time) error
}
