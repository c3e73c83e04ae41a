package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a user, role or scope does not exist
var ErrNotFound = errors.New("not found")

// User is an identity owned by the external identity subsystem
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Role is immutable reference data keyed by its canonical code
type Role struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
}

// Organization is a tenant
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Hospital belongs to at most one organization
type Hospital struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
}

// Directory is read-only access to users, roles and scopes
type Directory interface {
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	RoleByID(ctx context.Context, id int64) (*Role, error)
	RoleByCode(ctx context.Context, code string) (*Role, error)
	HospitalByID(ctx context.Context, id int64) (*Hospital, error)
	OrganizationByID(ctx context.Context, id int64) (*Organization, error)
}

// SQLDirectory reads the directory tables directly
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over db
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// UserByID looks up a user by id
func (d *SQLDirectory) UserByID(ctx context.Context, id int64) (*User, error) {
	return d.user(ctx, "id = $1", id)
}

// UserByEmail looks up a user by email, case-insensitively
func (d *SQLDirectory) UserByEmail(ctx context.Context, email string) (*User, error) {
	return d.user(ctx, "LOWER(email) = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (d *SQLDirectory) user(ctx context.Context, where string, arg interface{}) (*User, error) {
	var (
		u     User
		email sql.NullString
		phone sql.NullString
	)
	err := d.db.QueryRowContext(ctx,
		"SELECT id, display_name, email, phone FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.DisplayName, &email, &phone)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = email.String
	u.Phone = phone.String
	return &u, nil
}

// RoleByID looks up a role by id
func (d *SQLDirectory) RoleByID(ctx context.Context, id int64) (*Role, error) {
	return d.role(ctx, "id = $1", id)
}

// RoleByCode looks up a role by its canonical code
func (d *SQLDirectory) RoleByCode(ctx context.Context, code string) (*Role, error) {
	return d.role(ctx, "code = $1", strings.ToUpper(strings.TrimSpace(code)))
}

func (d *SQLDirectory) role(ctx context.Context, where string, arg interface{}) (*Role, error) {
	var r Role
	err := d.db.QueryRowContext(ctx,
		"SELECT id, code, display_name FROM roles WHERE "+where, arg,
	).Scan(&r.ID, &r.Code, &r.DisplayName)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &r, nil
}

// HospitalByID looks up a hospital
func (d *SQLDirectory) HospitalByID(ctx context.Context, id int64) (*Hospital, error) {
	var (
		h     Hospital
		orgID sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx,
		"SELECT id, name, organization_id FROM hospitals WHERE id = $1", id,
	).Scan(&h.ID, &h.Name, &orgID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hospital %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hospital: %w", err)
	}
	if orgID.Valid {
		h.OrganizationID = &orgID.Int64
	}
	return &h, nil
}

// OrganizationByID looks up an organization
func (d *SQLDirectory) OrganizationByID(ctx context.Context, id int64) (*Organization, error) {
	var o Organization
	err := d.db.QueryRowContext(ctx,
		"SELECT id, name FROM organizations WHERE id = $1", id,
	).Scan(&o.ID, &o.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &o, nil
}
