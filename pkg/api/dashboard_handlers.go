package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/resolver"
)

// DashboardResolver computes a user's effective permissions
type DashboardResolver interface {
	Resolve(ctx context.Context, userID int64) (*resolver.DashboardConfig, error)
}

// DashboardHandlers serves dashboard configuration
type DashboardHandlers struct {
	resolver DashboardResolver
}

// NewDashboardHandlers creates dashboard handlers
func NewDashboardHandlers(r DashboardResolver) *DashboardHandlers {
	return &DashboardHandlers{resolver: r}
}

// RegisterRoutes registers the dashboard route on an authenticated router
func (h *DashboardHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/users/{id:[0-9]+}/dashboard", h.GetDashboard).Methods("GET")
}

// GetDashboard returns the resolved DashboardConfig for a user
func (h *DashboardHandlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	cfg, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, cfg)
}
