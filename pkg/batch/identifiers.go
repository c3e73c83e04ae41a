package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/platinummonkey/grants/pkg/assignments"
)

// UserRef identifies a user by numeric id or by email
type UserRef struct {
	ID    int64
	Email string
}

// RoleRef identifies a role by numeric id or by ROLE_* code
type RoleRef struct {
	ID   int64
	Code string
}

// ParseUserIdentifier accepts a positive integer id or an email address
func ParseUserIdentifier(s string) (UserRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UserRef{}, fmt.Errorf("%w: user identifier is required", assignments.ErrValidation)
	}
	if id, ok := positiveInt(s); ok {
		return UserRef{ID: id}, nil
	}
	if at := strings.IndexByte(s, '@'); at > 0 && at < len(s)-1 {
		return UserRef{Email: strings.ToLower(s)}, nil
	}
	return UserRef{}, fmt.Errorf("%w: user identifier %q is neither an id nor an email", assignments.ErrValidation, s)
}

// ParseRoleIdentifier accepts a positive integer id or a ROLE_* code
func ParseRoleIdentifier(s string) (RoleRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RoleRef{}, fmt.Errorf("%w: role identifier is required", assignments.ErrValidation)
	}
	if id, ok := positiveInt(s); ok {
		return RoleRef{ID: id}, nil
	}
	code := strings.ToUpper(s)
	if strings.HasPrefix(code, "ROLE_") && len(code) > len("ROLE_") {
		return RoleRef{Code: code}, nil
	}
	return RoleRef{}, fmt.Errorf("%w: role identifier %q is neither an id nor a ROLE_ code", assignments.ErrValidation, s)
}

// ParseScopeIdentifier accepts an empty value or GLOBAL, hospital:<id>,
// organization:<id>, or a bare numeric id which is read as a hospital
func ParseScopeIdentifier(s string) (assignments.Scope, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		scope := assignments.HospitalScope(id)
		return scope, scope.Validate()
	}
	return assignments.ParseScopeKey(s)
}

func positiveInt(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
