// Package middleware holds the request-scoped HTTP middleware of the API:
// actor authentication, tenant selection and rate limiting.
//
// Ordering (outer to inner):
//
//	router.Use(httputil.RequestIDMiddleware)
//	admin.Use(actorAuth.Handler)             // sets the actor id
//	admin.Use(middleware.TenantMiddleware(dir)) // optional X-Tenant-ID
//	public.Use(middleware.RateLimit(limiter, cfg, "verify", metrics))
//
// Rate limiting fails open: when Redis errors, FailoverLimiter falls back to
// the in-process LocalLimiter, and RateLimit lets the request through if the
// limiter itself errors.
package middleware
