package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/observability"
)

// Lister loads a user's active assignments
type Lister interface {
	ListActiveForUser(ctx context.Context, userID int64, verifiedOnly bool) ([]*assignments.Assignment, error)
}

// Names resolves role codes and scope display names
type Names interface {
	RoleByID(ctx context.Context, id int64) (*directory.Role, error)
	HospitalByID(ctx context.Context, id int64) (*directory.Hospital, error)
	OrganizationByID(ctx context.Context, id int64) (*directory.Organization, error)
}

// RoleConfig is one role held in one scope
type RoleConfig struct {
	RoleCode         string                `json:"role_code"`
	RoleDisplayName  string                `json:"role_display_name"`
	ScopeID          *int64                `json:"scope_id"`
	ScopeKind        assignments.ScopeKind `json:"scope_kind"`
	ScopeDisplayName *string               `json:"scope_display_name"`
	Permissions      []string              `json:"permissions"`
}

// DashboardConfig is the effective view of a user's grants
type DashboardConfig struct {
	UserID          int64        `json:"user_id"`
	PrimaryRoleCode string       `json:"primary_role_code"`
	Roles           []RoleConfig `json:"roles"`
	Permissions     []string     `json:"permissions"`
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLegacyActiveGate counts every active assignment instead of only
// VERIFIED ones
func WithLegacyActiveGate(enabled bool) Option {
	return func(r *Resolver) { r.legacyActiveGate = enabled }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver computes DashboardConfig values. Nothing is cached between calls.
type Resolver struct {
	lister           Lister
	catalog          *catalog.Catalog
	names            Names
	legacyActiveGate bool
	metrics          *observability.Metrics
	logger           *observability.Logger
}

// New creates a resolver
func New(lister Lister, cat *catalog.Catalog, names Names, opts ...Option) *Resolver {
	r := &Resolver{lister: lister, catalog: cat, names: names}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.NewNopLogger()
	}
	return r
}

type candidate struct {
	a         *assignments.Assignment
	code      string
	roleName  string
	priority  int
	known     bool
	scopeName *string
}

// Resolve merges the user's verified grants into one ordered view
func (r *Resolver) Resolve(ctx context.Context, userID int64) (cfg *DashboardConfig, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "resolver.Resolve", attribute.Int64("user_id", userID))
	defer func() {
		observability.EndSpan(span, err)
		r.metrics.ObserveResolve(time.Since(start))
	}()

	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", assignments.ErrValidation)
	}

	list, err := r.lister.ListActiveForUser(ctx, userID, !r.legacyActiveGate)
	if err != nil {
		return nil, fmt.Errorf("loading assignments for user %d: %w", userID, err)
	}

	candidates, err := r.candidates(ctx, list)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)

	cfg = &DashboardConfig{UserID: userID, Roles: []RoleConfig{}}
	merged := newOrderedSet()
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		key := c.code + "|" + c.a.Scope.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		perms := r.catalog.PermissionsFor(c.code)
		merged.add(perms...)
		rc := RoleConfig{
			RoleCode:         c.code,
			RoleDisplayName:  c.roleName,
			ScopeKind:        c.a.Scope.Normalize().Kind,
			ScopeDisplayName: c.scopeName,
			Permissions:      perms,
		}
		if !c.a.Scope.IsGlobal() {
			id := c.a.Scope.ID
			rc.ScopeID = &id
		}
		cfg.Roles = append(cfg.Roles, rc)
	}

	if len(cfg.Roles) == 0 {
		perms := r.catalog.Fallback()
		merged.add(perms...)
		cfg.Roles = append(cfg.Roles, RoleConfig{
			RoleCode:        catalog.RoleUnknown,
			RoleDisplayName: r.catalog.DisplayName(catalog.RoleUnknown),
			ScopeKind:       assignments.ScopeGlobal,
			Permissions:     perms,
		})
	}

	cfg.PrimaryRoleCode = cfg.Roles[0].RoleCode
	cfg.Permissions = merged.values()
	return cfg, nil
}

func (r *Resolver) candidates(ctx context.Context, list []*assignments.Assignment) ([]candidate, error) {
	roles := make(map[int64]*directory.Role)
	out := make([]candidate, 0, len(list))

	for _, a := range list {
		role, ok := roles[a.RoleID]
		if !ok {
			var err error
			role, err = r.names.RoleByID(ctx, a.RoleID)
			switch {
			case errors.Is(err, directory.ErrNotFound):
				role = nil
			case err != nil:
				return nil, fmt.Errorf("resolving role %d: %w", a.RoleID, err)
			}
			roles[a.RoleID] = role
		}
		if role == nil {
			r.logger.WithFields(map[string]interface{}{
				"assignment_id": a.ID,
				"role_id":       a.RoleID,
			}).Warn("Skipping assignment with missing role")
			continue
		}

		scopeName, err := r.scopeName(ctx, a.Scope)
		if err != nil {
			return nil, err
		}

		priority, known := r.catalog.Priority(role.Code)
		name := role.DisplayName
		if name == "" {
			name = r.catalog.DisplayName(role.Code)
		}
		out = append(out, candidate{
			a:         a,
			code:      role.Code,
			roleName:  name,
			priority:  priority,
			known:     known,
			scopeName: scopeName,
		})
	}
	return out, nil
}

func (r *Resolver) scopeName(ctx context.Context, s assignments.Scope) (*string, error) {
	var (
		name string
		err  error
	)
	switch s.Kind {
	case assignments.ScopeHospital:
		var h *directory.Hospital
		if h, err = r.names.HospitalByID(ctx, s.ID); err == nil {
			name = h.Name
		}
	case assignments.ScopeOrganization:
		var o *directory.Organization
		if o, err = r.names.OrganizationByID(ctx, s.ID); err == nil {
			name = o.Name
		}
	default:
		return nil, nil
	}

	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving scope %s: %w", s.Key(), err)
	}
	return &name, nil
}

// sortCandidates orders by priority with unknown codes last, then role code,
// then scope name case-insensitively with missing names last
func sortCandidates(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.known != b.known {
			return a.known
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if a.code != b.code {
			return a.code < b.code
		}
		if (a.scopeName == nil) != (b.scopeName == nil) {
			return a.scopeName != nil
		}
		if a.scopeName == nil {
			return false
		}
		return strings.ToLower(*a.scopeName) < strings.ToLower(*b.scopeName)
	})
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

func (s *orderedSet) values() []string {
	if s.items == nil {
		return []string{}
	}
	return append([]string(nil), s.items...)
}
