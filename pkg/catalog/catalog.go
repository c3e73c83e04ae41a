package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleUnknown is the reserved code used when a user resolves to no roles
const RoleUnknown = "ROLE_UNKNOWN"

// ErrInvalidCatalog is returned when a catalog definition is malformed
var ErrInvalidCatalog = errors.New("invalid permission catalog")

// Entry describes one role code and the permissions it carries
type Entry struct {
	Code        string   `yaml:"code" json:"code"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Priority    int      `yaml:"priority" json:"priority"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Definition is the on-disk shape of a catalog file
type Definition struct {
	Fallback []string `yaml:"fallback" json:"fallback"`
	Roles    []Entry  `yaml:"roles" json:"roles"`
}

// Catalog is an immutable lookup table from role code to permissions.
// It is safe for concurrent use; nothing mutates it after construction.
type Catalog struct {
	entries  map[string]Entry
	ordered  []string
	fallback []string
}

// New builds a catalog from a definition. Role codes must be unique and
// prefixed with ROLE_; permission lists are de-duplicated preserving order.
func New(def Definition) (*Catalog, error) {
	c := &Catalog{
		entries:  make(map[string]Entry, len(def.Roles)),
		fallback: dedupe(def.Fallback),
	}

	for _, e := range def.Roles {
		code := strings.TrimSpace(e.Code)
		if !strings.HasPrefix(code, "ROLE_") {
			return nil, fmt.Errorf("%w: role code %q must start with ROLE_", ErrInvalidCatalog, e.Code)
		}
		if code == RoleUnknown {
			return nil, fmt.Errorf("%w: %s is reserved for the fallback entry", ErrInvalidCatalog, RoleUnknown)
		}
		if _, exists := c.entries[code]; exists {
			return nil, fmt.Errorf("%w: duplicate role code %s", ErrInvalidCatalog, code)
		}
		if e.Priority < 0 {
			return nil, fmt.Errorf("%w: role %s has negative priority", ErrInvalidCatalog, code)
		}
		e.Code = code
		e.Permissions = dedupe(e.Permissions)
		c.entries[code] = e
		c.ordered = append(c.ordered, code)
	}

	sort.SliceStable(c.ordered, func(i, j int) bool {
		pi, pj := c.entries[c.ordered[i]].Priority, c.entries[c.ordered[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return c.ordered[i] < c.ordered[j]
	})

	return c, nil
}

// Parse decodes a YAML catalog definition
func Parse(data []byte) (*Catalog, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(def)
}

// Load reads a YAML catalog file. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// PermissionsFor returns the permissions for a role code. Unknown codes
// receive the fallback permission set. The returned slice is a copy.
func (c *Catalog) PermissionsFor(roleCode string) []string {
	if e, ok := c.entries[roleCode]; ok {
		return append([]string(nil), e.Permissions...)
	}
	return c.Fallback()
}

// Fallback returns the permissions granted to RoleUnknown
func (c *Catalog) Fallback() []string {
	return append([]string(nil), c.fallback...)
}

// Priority returns the ordering rank of a role code, lower first.
// The boolean is false for codes the catalog does not know.
func (c *Catalog) Priority(roleCode string) (int, bool) {
	e, ok := c.entries[roleCode]
	if !ok {
		return 0, false
	}
	return e.Priority, true
}

// Known reports whether the catalog has an entry for roleCode
func (c *Catalog) Known(roleCode string) bool {
	_, ok := c.entries[roleCode]
	return ok
}

// DisplayName returns the human-readable name for a role code
func (c *Catalog) DisplayName(roleCode string) string {
	if e, ok := c.entries[roleCode]; ok && e.DisplayName != "" {
		return e.DisplayName
	}
	if roleCode == RoleUnknown {
		return "Unknown"
	}
	return roleCode
}

// Entries returns all entries ordered by priority
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.ordered))
	for _, code := range c.ordered {
		e := c.entries[code]
		e.Permissions = append([]string(nil), e.Permissions...)
		out = append(out, e)
	}
	return out
}

// Definition returns a copy of the catalog in its serializable form
func (c *Catalog) Definition() Definition {
	return Definition{Fallback: c.Fallback(), Roles: c.Entries()}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
