package assignments

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of an assignment
type Status string

const (
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusConfirmed           Status = "CONFIRMED"
	StatusVerified            Status = "VERIFIED"
	StatusRevoked             Status = "REVOKED"
)

// Valid reports whether s is one of the defined statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPendingConfirmation, StatusConfirmed, StatusVerified, StatusRevoked:
		return true
	}
	return false
}

// ParseStatus converts a stored status string
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown assignment status %q", s)
	}
	return status, nil
}

// ScopeKind identifies what a scope id refers to
type ScopeKind string

const (
	ScopeGlobal       ScopeKind = "global"
	ScopeHospital     ScopeKind = "hospital"
	ScopeOrganization ScopeKind = "organization"
)

// GlobalScopeKey is the scope key of an unscoped grant
const GlobalScopeKey = "GLOBAL"

// Scope is the organizational boundary of a grant. The zero value is the
// global scope.
type Scope struct {
	Kind ScopeKind `json:"kind,omitempty"`
	ID   int64     `json:"id,omitempty"`
}

// GlobalScope returns the organization-wide scope
func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// HospitalScope returns a hospital scope
func HospitalScope(id int64) Scope { return Scope{Kind: ScopeHospital, ID: id} }

// OrganizationScope returns an organization scope
func OrganizationScope(id int64) Scope { return Scope{Kind: ScopeOrganization, ID: id} }

// IsGlobal reports whether s is unscoped
func (s Scope) IsGlobal() bool {
	return s.Kind == "" || s.Kind == ScopeGlobal
}

// Normalize returns s with an empty kind replaced by ScopeGlobal
func (s Scope) Normalize() Scope {
	if s.Kind == "" {
		s.Kind = ScopeGlobal
	}
	return s
}

// Key is the canonical uniqueness key: GLOBAL, hospital:<id> or organization:<id>
func (s Scope) Key() string {
	if s.IsGlobal() {
		return GlobalScopeKey
	}
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

func (s Scope) String() string { return s.Key() }

// Validate checks the kind and id combination
func (s Scope) Validate() error {
	switch s.Kind {
	case "", ScopeGlobal:
		if s.ID != 0 {
			return fmt.Errorf("%w: global scope cannot carry an id", ErrValidation)
		}
	case ScopeHospital, ScopeOrganization:
		if s.ID <= 0 {
			return fmt.Errorf("%w: %s scope requires a positive id", ErrValidation, s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown scope kind %q", ErrValidation, s.Kind)
	}
	return nil
}

// ParseScopeKey parses GLOBAL (or empty), hospital:<id> and organization:<id>
func ParseScopeKey(key string) (Scope, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.EqualFold(key, GlobalScopeKey) {
		return GlobalScope(), nil
	}

	kind, rawID, ok := strings.Cut(key, ":")
	if !ok {
		return Scope{}, fmt.Errorf("%w: malformed scope %q", ErrValidation, key)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: malformed scope id in %q", ErrValidation, key)
	}

	s := Scope{Kind: ScopeKind(strings.ToLower(strings.TrimSpace(kind))), ID: id}
	if s.IsGlobal() {
		return Scope{}, fmt.Errorf("%w: malformed scope %q", ErrValidation, key)
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Assignment grants one role to one user within one scope
type Assignment struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	RoleID           int64      `json:"role_id"`
	Scope            Scope      `json:"scope"`
	Active           bool       `json:"active"`
	Status           Status     `json:"status"`
	AssignmentCode   string     `json:"assignment_code"`
	ConfirmationCode string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
}

// CreateRequest is the input to Manager.Create
type CreateRequest struct {
	UserID  int64  `json:"user_id"`
	RoleID  int64  `json:"role_id"`
	Scope   Scope  `json:"scope"`
	ActorID *int64 `json:"-"`
	// TenantID, when set, is the organization the caller acts for. Hospital
	// and organization scopes must belong to it.
	TenantID *int64 `json:"tenant_id,omitempty"`
}

// RegenerateOptions controls Manager.RegenerateCode
type RegenerateOptions struct {
	Resend               bool `json:"resend"`
	RotateAssignmentCode bool `json:"rotate_assignment_code"`
}

// NotificationKind selects the message sent to the assignee
type NotificationKind string

const (
	// NotificationPending tells the assignee a grant awaits confirmation
	NotificationPending NotificationKind = "pending"
	// NotificationVerify carries the codes the assignee needs to verify
	NotificationVerify NotificationKind = "verify"
	// NotificationRegenerated tells the assignee their codes changed
	NotificationRegenerated NotificationKind = "regenerated"
)

// Notification is an outbox row written in the same transaction as the
// transition that caused it. The confirmation code is cleared once sent.
type Notification struct {
	ID               string           `json:"id"`
	AssignmentID     int64            `json:"assignment_id"`
	UserID           int64            `json:"user_id"`
	RoleID           int64            `json:"role_id"`
	ScopeKey         string           `json:"scope_key"`
	Kind             NotificationKind `json:"kind"`
	AssignmentCode   string           `json:"assignment_code"`
	ConfirmationCode string           `json:"-"`
	Attempts         int              `json:"attempts"`
	NextAttemptAt    time.Time        `json:"next_attempt_at"`
	CreatedAt        time.Time        `json:"created_at"`
	SentAt           *time.Time       `json:"sent_at,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
}
