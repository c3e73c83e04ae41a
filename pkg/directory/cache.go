package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/grants/pkg/observability"
)

// CachedDirectory fronts role and scope lookups with expiring LRU caches.
// Users are never cached; their contact details change outside this service.
// Misses (ErrNotFound) are not cached either.
type CachedDirectory struct {
	next          Directory
	roles         *lru.LRU[string, *Role]
	hospitals     *lru.LRU[int64, *Hospital]
	organizations *lru.LRU[int64, *Organization]
	metrics       *observability.Metrics
}

// NewCachedDirectory wraps next. metrics may be nil.
func NewCachedDirectory(next Directory, size int, ttl time.Duration, metrics *observability.Metrics) *CachedDirectory {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{
		next:          next,
		roles:         lru.NewLRU[string, *Role](size, nil, ttl),
		hospitals:     lru.NewLRU[int64, *Hospital](size, nil, ttl),
		organizations: lru.NewLRU[int64, *Organization](size, nil, ttl),
		metrics:       metrics,
	}
}

// UserByID is not cached
func (c *CachedDirectory) UserByID(ctx context.Context, id int64) (*User, error) {
	return c.next.UserByID(ctx, id)
}

// UserByEmail is not cached
func (c *CachedDirectory) UserByEmail(ctx context.Context, email string) (*User, error) {
	return c.next.UserByEmail(ctx, email)
}

// RoleByID returns a cached role
func (c *CachedDirectory) RoleByID(ctx context.Context, id int64) (*Role, error) {
	if r, ok := c.roles.Get(roleIDKey(id)); ok {
		c.metrics.RecordCache("role", true)
		return r, nil
	}
	c.metrics.RecordCache("role", false)

	r, err := c.next.RoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.storeRole(r)
	return r, nil
}

// RoleByCode returns a cached role
func (c *CachedDirectory) RoleByCode(ctx context.Context, code string) (*Role, error) {
	key := roleCodeKey(code)
	if r, ok := c.roles.Get(key); ok {
		c.metrics.RecordCache("role", true)
		return r, nil
	}
	c.metrics.RecordCache("role", false)

	r, err := c.next.RoleByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.storeRole(r)
	return r, nil
}

func (c *CachedDirectory) storeRole(r *Role) {
	c.roles.Add(roleIDKey(r.ID), r)
	c.roles.Add(roleCodeKey(r.Code), r)
}

// HospitalByID returns a cached hospital
func (c *CachedDirectory) HospitalByID(ctx context.Context, id int64) (*Hospital, error) {
	if h, ok := c.hospitals.Get(id); ok {
		c.metrics.RecordCache("hospital", true)
		return h, nil
	}
	c.metrics.RecordCache("hospital", false)

	h, err := c.next.HospitalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.hospitals.Add(id, h)
	return h, nil
}

// OrganizationByID returns a cached organization
func (c *CachedDirectory) OrganizationByID(ctx context.Context, id int64) (*Organization, error) {
	if o, ok := c.organizations.Get(id); ok {
		c.metrics.RecordCache("organization", true)
		return o, nil
	}
	c.metrics.RecordCache("organization", false)

	o, err := c.next.OrganizationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.organizations.Add(id, o)
	return o, nil
}

// Purge drops every cached entry
func (c *CachedDirectory) Purge() {
	c.roles.Purge()
	c.hospitals.Purge()
	c.organizations.Purge()
}

func roleIDKey(id int64) string { return fmt.Sprintf("id:%d", id) }

func roleCodeKey(code string) string {
	return "code:" + strings.ToUpper(strings.TrimSpace(code))
}
