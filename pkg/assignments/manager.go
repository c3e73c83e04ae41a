package assignments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/grants/pkg/async"
	"github.com/platinummonkey/grants/pkg/audit"
	"github.com/platinummonkey/grants/pkg/codes"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/observability"
)

// Directory is the subset of directory lookups the manager validates against
type Directory interface {
	UserByID(ctx context.Context, id int64) (*directory.User, error)
	RoleByID(ctx context.Context, id int64) (*directory.Role, error)
	HospitalByID(ctx context.Context, id int64) (*directory.Hospital, error)
	OrganizationByID(ctx context.Context, id int64) (*directory.Organization, error)
}

// Dispatcher delivers an outbox notification
type Dispatcher interface {
	Dispatch(ctx context.Context, notificationID string) error
}

// Manager drives assignments through their lifecycle
type Manager struct {
	store         Store
	dir           Directory
	codes         codes.Generator
	dispatcher    Dispatcher
	audit         audit.Logger
	metrics       *observability.Metrics
	logger        *observability.Logger
	now           func() time.Time
	notifyTimeout time.Duration
	relayGrace    time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithDispatcher delivers notifications right after commit
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNotifyTimeout bounds each post-commit delivery
func WithNotifyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.notifyTimeout = d }
}

// WithRelayGrace delays relay pickup of new outbox rows so the post-commit
// delivery normally wins
func WithRelayGrace(d time.Duration) Option {
	return func(m *Manager) { m.relayGrace = d }
}

// NewManager creates a lifecycle manager
func NewManager(store Store, dir Directory, gen codes.Generator, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		dir:           dir,
		codes:         gen,
		audit:         audit.NewNoOpLogger(),
		logger:        observability.NewNopLogger(),
		now:           func() time.Time { return time.Now().UTC() },
		notifyTimeout: 10 * time.Second,
		relayGrace:    time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store
func (m *Manager) Store() Store {
	return m.store
}

func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// Create validates the request and inserts a PENDING_CONFIRMATION assignment.
// The returned assignment carries the confirmation code for the creator.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (a *Assignment, err error) {
	ctx, span := observability.StartSpan(ctx, "assignments.Create",
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("role_id", req.RoleID),
		attribute.String("scope", req.Scope.Key()),
	)
	defer func() {
		observability.EndSpan(span, err)
		m.metrics.RecordTransition(string(EventCreate), err)
	}()

	req.Scope = req.Scope.Normalize()
	if err := m.validateCreate(ctx, req); err != nil {
		m.record(ctx, audit.EventTypeAssignmentCreate, nil, req.ActorID, req.UserID, err)
		return nil, err
	}

	status, err := Next("", EventCreate)
	if err != nil {
		return nil, err
	}
	assignmentCode, err := m.codes.NewAssignmentCode()
	if err != nil {
		return nil, err
	}
	confirmationCode, err := m.codes.NewConfirmationCode()
	if err != nil {
		return nil, err
	}

	now := m.clock()
	a = &Assignment{
		UserID:           req.UserID,
		RoleID:           req.RoleID,
		Scope:            req.Scope,
		Active:           true,
		Status:           status,
		AssignmentCode:   assignmentCode,
		ConfirmationCode: confirmationCode,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        req.ActorID,
	}

	var note *Notification
	err = m.store.WithinTx(ctx, func(tx Store) error {
		dup, err := tx.ExistsActiveDuplicate(ctx, a.UserID, a.RoleID, a.Scope)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("user %d role %d scope %s: %w", a.UserID, a.RoleID, a.Scope.Key(), ErrDuplicateGrant)
		}
		if err := tx.Save(ctx, a); err != nil {
			return err
		}
		note = m.newNotification(a, NotificationPending, "", now)
		return tx.EnqueueNotification(ctx, note)
	})
	if err != nil {
		m.record(ctx, audit.EventTypeAssignmentCreate, nil, req.ActorID, req.UserID, err)
		return nil, err
	}

	m.dispatch(ctx, note)
	m.record(ctx, audit.EventTypeAssignmentCreate, a, req.ActorID, a.UserID, nil)
	return a, nil
}

func (m *Manager) validateCreate(ctx context.Context, req CreateRequest) error {
	if req.UserID <= 0 {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.RoleID <= 0 {
		return fmt.Errorf("%w: role_id is required", ErrValidation)
	}
	if err := req.Scope.Validate(); err != nil {
		return err
	}

	if _, err := m.dir.UserByID(ctx, req.UserID); err != nil {
		return lookupError(err)
	}
	if _, err := m.dir.RoleByID(ctx, req.RoleID); err != nil {
		return lookupError(err)
	}

	switch req.Scope.Kind {
	case ScopeHospital:
		h, err := m.dir.HospitalByID(ctx, req.Scope.ID)
		if err != nil {
			return lookupError(err)
		}
		if req.TenantID != nil && (h.OrganizationID == nil || *h.OrganizationID != *req.TenantID) {
			return fmt.Errorf("%w: hospital %d does not belong to organization %d", ErrBusinessRule, h.ID, *req.TenantID)
		}
	case ScopeOrganization:
		if _, err := m.dir.OrganizationByID(ctx, req.Scope.ID); err != nil {
			return lookupError(err)
		}
		if req.TenantID != nil && req.Scope.ID != *req.TenantID {
			return fmt.Errorf("%w: organization %d is outside tenant %d", ErrBusinessRule, req.Scope.ID, *req.TenantID)
		}
	}
	return nil
}

func lookupError(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// Confirm consumes the creator's confirmation code and moves the assignment to
// CONFIRMED. A fresh code is issued to the assignee for verification.
func (m *Manager) Confirm(ctx context.Context, id int64, code string) (a *Assignment, err error) {
	ctx, span := observability.StartSpan(ctx, "assignments.Confirm", attribute.Int64("assignment_id", id))
	defer func() {
		observability.EndSpan(span, err)
		m.metrics.RecordTransition(string(EventConfirm), err)
	}()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: confirmation code is required", ErrInvalidCode)
	}
	fresh, err := m.codes.NewConfirmationCode()
	if err != nil {
		return nil, err
	}

	now := m.clock()
	var note *Notification
	err = m.store.WithinTx(ctx, func(tx Store) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := Next(current.Status, EventConfirm); err != nil {
			return err
		}

		ok, err := tx.ConsumeConfirmationCode(ctx, id, code, fresh, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("assignment %d: %w", id, ErrInvalidCode)
		}

		if a, err = tx.FindByID(ctx, id); err != nil {
			return err
		}
		note = m.newNotification(a, NotificationVerify, fresh, now)
		return tx.EnqueueNotification(ctx, note)
	})
	if err != nil {
		m.record(ctx, audit.EventTypeAssignmentConfirm, &Assignment{ID: id}, nil, 0, err)
		return nil, err
	}

	m.dispatch(ctx, note)
	m.record(ctx, audit.EventTypeAssignmentConfirm, a, nil, a.UserID, nil)
	return a, nil
}

// Verify consumes the assignee's code and moves the assignment to VERIFIED.
// Every failure wraps ErrVerificationFailed so callers can answer uniformly.
func (m *Manager) Verify(ctx context.Context, assignmentCode, code string) (a *Assignment, err error) {
	ctx, span := observability.StartSpan(ctx, "assignments.Verify")
	defer func() {
		observability.EndSpan(span, err)
		m.metrics.RecordTransition(string(EventVerify), err)
	}()

	assignmentCode = strings.TrimSpace(assignmentCode)
	code = strings.TrimSpace(code)
	if assignmentCode == "" || code == "" {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, ErrInvalidCode)
	}

	now := m.clock()
	err = m.store.WithinTx(ctx, func(tx Store) error {
		id, ok, err := tx.ConsumeVerification(ctx, assignmentCode, code, now)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := tx.FindByAssignmentCode(ctx, assignmentCode); err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %w", ErrVerificationFailed, ErrNotFound)
				}
				return err
			}
			return fmt.Errorf("%w: %w", ErrVerificationFailed, ErrInvalidCode)
		}
		a, err = tx.FindByID(ctx, id)
		return err
	})
	if err != nil {
		m.record(ctx, audit.EventTypeAssignmentVerify, nil, nil, 0, err)
		return nil, err
	}

	m.record(ctx, audit.EventTypeAssignmentVerify, a, nil, a.UserID, nil)
	return a, nil
}

// Revoke deactivates an assignment. Revoking a revoked assignment returns it
// unchanged.
func (m *Manager) Revoke(ctx context.Context, id int64, actorID *int64) (a *Assignment, err error) {
	ctx, span := observability.StartSpan(ctx, "assignments.Revoke", attribute.Int64("assignment_id", id))
	defer func() {
		observability.EndSpan(span, err)
		m.metrics.RecordTransition(string(EventRevoke), err)
	}()

	now := m.clock()
	changed := false
	err = m.store.WithinTx(ctx, func(tx Store) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == StatusRevoked {
			a = current
			return nil
		}
		if _, err := Next(current.Status, EventRevoke); err != nil {
			return err
		}

		if changed, err = tx.MarkRevoked(ctx, id, now); err != nil {
			return err
		}
		a, err = tx.FindByID(ctx, id)
		return err
	})
	if err != nil {
		m.record(ctx, audit.EventTypeAssignmentRevoke, &Assignment{ID: id}, actorID, 0, err)
		return nil, err
	}

	if changed {
		m.record(ctx, audit.EventTypeAssignmentRevoke, a, actorID, a.UserID, nil)
	}
	return a, nil
}

// RegenerateCode replaces the confirmation code of a non-revoked assignment,
// and optionally its assignment code. The old codes stop working immediately.
// A confirmed assignment always sends the new code to its assignee, since
// nobody else is ever shown it; Resend only matters for other statuses.
func (m *Manager) RegenerateCode(ctx context.Context, id int64, opts RegenerateOptions) (a *Assignment, err error) {
	ctx, span := observability.StartSpan(ctx, "assignments.RegenerateCode",
		attribute.Int64("assignment_id", id),
		attribute.Bool("resend", opts.Resend),
	)
	defer func() {
		observability.EndSpan(span, err)
		m.metrics.RecordTransition(string(EventRegenerate), err)
	}()

	confirmationCode, err := m.codes.NewConfirmationCode()
	if err != nil {
		return nil, err
	}
	var assignmentCode string
	if opts.RotateAssignmentCode {
		if assignmentCode, err = m.codes.NewAssignmentCode(); err != nil {
			return nil, err
		}
	}

	now := m.clock()
	var note *Notification
	err = m.store.WithinTx(ctx, func(tx Store) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := Next(current.Status, EventRegenerate); err != nil {
			return err
		}

		ok, err := tx.ReplaceCodes(ctx, id, confirmationCode, assignmentCode, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: assignment %d was revoked concurrently", ErrInvalidTransition, id)
		}
		if a, err = tx.FindByID(ctx, id); err != nil {
			return err
		}

		if !opts.Resend && a.Status != StatusConfirmed {
			return nil
		}
		switch a.Status {
		case StatusPendingConfirmation:
			note = m.newNotification(a, NotificationPending, "", now)
		case StatusConfirmed:
			note = m.newNotification(a, NotificationVerify, confirmationCode, now)
		default:
			note = m.newNotification(a, NotificationRegenerated, "", now)
		}
		return tx.EnqueueNotification(ctx, note)
	})
	if err != nil {
		m.record(ctx, audit.EventTypeAssignmentRegenerate, &Assignment{ID: id}, nil, 0, err)
		return nil, err
	}

	if note != nil {
		m.dispatch(ctx, note)
	}
	m.record(ctx, audit.EventTypeAssignmentRegenerate, a, nil, a.UserID, nil)
	return a, nil
}

// Purge hard deletes an inactive assignment
func (m *Manager) Purge(ctx context.Context, id int64, actorID *int64) (err error) {
	ctx, span := observability.StartSpan(ctx, "assignments.Purge", attribute.Int64("assignment_id", id))
	defer func() {
		observability.EndSpan(span, err)
		m.metrics.RecordTransition("purge", err)
	}()

	var purged *Assignment
	err = m.store.WithinTx(ctx, func(tx Store) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Active {
			return fmt.Errorf("%w: assignment %d is active; revoke it first", ErrBusinessRule, id)
		}
		ok, err := tx.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("assignment %d: %w", id, ErrNotFound)
		}
		purged = current
		return nil
	})
	if err != nil {
		m.record(ctx, audit.EventTypeAssignmentPurge, &Assignment{ID: id}, actorID, 0, err)
		return err
	}

	m.record(ctx, audit.EventTypeAssignmentPurge, purged, actorID, purged.UserID, nil)
	return nil
}

// Get returns one assignment
func (m *Manager) Get(ctx context.Context, id int64) (*Assignment, error) {
	return m.store.FindByID(ctx, id)
}

// ListForUser returns every assignment of a user, newest first
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]*Assignment, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	return m.store.ListForUser(ctx, userID)
}

func (m *Manager) newNotification(a *Assignment, kind NotificationKind, confirmationCode string, now time.Time) *Notification {
	return &Notification{
		ID:               uuid.NewString(),
		AssignmentID:     a.ID,
		UserID:           a.UserID,
		RoleID:           a.RoleID,
		ScopeKey:         a.Scope.Key(),
		Kind:             kind,
		AssignmentCode:   a.AssignmentCode,
		ConfirmationCode: confirmationCode,
		NextAttemptAt:    now.Add(m.relayGrace),
		CreatedAt:        now,
	}
}

// dispatch delivers note in the background. Failures are left to the relay.
func (m *Manager) dispatch(ctx context.Context, note *Notification) {
	if m.dispatcher == nil || note == nil {
		return
	}
	id := note.ID
	async.SafeGo(async.Detach(ctx), m.notifyTimeout, "assignment notification", func(ctx context.Context) error {
		return m.dispatcher.Dispatch(ctx, id)
	})
}

func (m *Manager) record(ctx context.Context, typ audit.EventType, a *Assignment, actorID *int64, subjectID int64, opErr error) {
	event := &audit.Event{
		EventType: typ,
		Status:    audit.EventStatusSuccess,
		ActorID:   actorID,
	}
	if event.ActorID == nil {
		if id, ok := observability.GetActorID(ctx); ok {
			event.ActorID = &id
		}
	}
	if subjectID > 0 {
		event.SubjectID = &subjectID
	}
	if a != nil && a.ID > 0 {
		id := a.ID
		event.AssignmentID = &id
		if a.Status != "" {
			event.Metadata = map[string]interface{}{
				"role_id": a.RoleID,
				"scope":   a.Scope.Key(),
				"status":  string(a.Status),
			}
		}
	}
	if opErr != nil {
		event.Status = audit.EventStatusFailure
		event.ErrorMessage = Code(opErr)
	}

	if err := m.audit.Log(ctx, event); err != nil {
		m.logger.WithError(err).WithField("event_type", string(typ)).Warn("Failed to write audit event")
	}
}
