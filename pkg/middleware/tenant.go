package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/httputil"
)

// TenantHeader selects the organization a request acts within
const TenantHeader = "X-Tenant-ID"

type tenantKey struct{}

// TenantLookup checks that an organization exists
type TenantLookup interface {
	OrganizationByID(ctx context.Context, id int64) (*directory.Organization, error)
}

// TenantFromContext returns the tenant organization id, if the request set one
func TenantFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantKey{}).(int64)
	return id, ok
}

// WithTenant stores a tenant organization id on the context
func WithTenant(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, tenantKey{}, orgID)
}

// TenantMiddleware reads X-Tenant-ID. Requests without the header pass
// through untouched; a malformed or unknown tenant is rejected.
func TenantMiddleware(lookup TenantLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(TenantHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			orgID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || orgID <= 0 {
				httputil.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid tenant id")
				return
			}

			if _, err := lookup.OrganizationByID(r.Context(), orgID); err != nil {
				if errors.Is(err, directory.ErrNotFound) {
					httputil.WriteErrorCode(w, http.StatusNotFound, "NOT_FOUND", "tenant not found")
					return
				}
				httputil.WriteInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), orgID)))
		})
	}
}
