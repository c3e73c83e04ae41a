package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/middleware"
	"github.com/platinummonkey/grants/pkg/observability"
)

// maxBodyBytes bounds request bodies; bulk imports are the largest
const maxBodyBytes = 8 << 20

// Config wires the API server
type Config struct {
	Assignments AssignmentService
	Assigner    ScopeAssigner
	Importer    Importer
	Resolver    DashboardResolver

	// Auth guards every route except public verification
	Auth *middleware.ActorAuth
	// Tenants validates X-Tenant-ID. Nil disables tenant selection.
	Tenants middleware.TenantLookup

	VerifyLimiter middleware.Limiter
	VerifyLimit   *middleware.RateLimitConfig

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Server is the HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// RouteRegistrar is implemented by each handler group
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// NewServer builds the router and the middleware stack
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Auth == nil {
		cfg.Auth = middleware.NewActorAuth(middleware.AuthConfig{Logger: cfg.Logger})
	}
	if cfg.VerifyLimiter == nil {
		cfg.VerifyLimiter = middleware.NewLocalLimiter(cfg.VerifyLimit, 0)
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorCode(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	public := router.NewRoute().Subrouter()
	public.Use(middleware.RateLimit(cfg.VerifyLimiter, cfg.VerifyLimit, "verify", cfg.Metrics))
	NewVerificationHandlers(cfg.Assignments).RegisterRoutes(public)

	admin := router.NewRoute().Subrouter()
	admin.Use(cfg.Auth.Handler)
	if cfg.Tenants != nil {
		admin.Use(middleware.TenantMiddleware(cfg.Tenants))
	}

	registrars := []RouteRegistrar{
		NewAssignmentHandlers(cfg.Assignments),
		NewDashboardHandlers(cfg.Resolver),
	}
	if cfg.Assigner != nil && cfg.Importer != nil {
		registrars = append(registrars, NewBatchHandlers(cfg.Assigner, cfg.Importer))
	}
	for _, r := range registrars {
		r.RegisterRoutes(admin)
	}

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(cfg.Logger),
		observability.RecoveryMiddleware(cfg.Logger),
		cfg.Metrics.HTTPMiddleware(routeTemplate(router)),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)

	return &Server{
		router:  router,
		handler: otelhttp.NewHandler(chain(router), "grants-api"),
	}
}

// Router exposes the underlying router for extra registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate labels metrics by mux path template. The route is matched
// again because metrics wrap the router.
func routeTemplate(router *mux.Router) func(*http.Request) string {
	return func(r *http.Request) string {
		var match mux.RouteMatch
		if !router.Match(r, &match) || match.Route == nil {
			return "unmatched"
		}
		tmpl, err := match.Route.GetPathTemplate()
		if err != nil {
			return "unmatched"
		}
		return tmpl
	}
}
