package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/grants/pkg/batch"
	"github.com/platinummonkey/grants/pkg/httputil"
)

// ScopeAssigner runs batch scope assignments
type ScopeAssigner interface {
	AssignToScopes(ctx context.Context, req batch.BatchRequest) (*batch.BatchResponse, error)
}

// Importer runs bulk imports
type Importer interface {
	Import(ctx context.Context, rows []batch.ImportRow, actorID, tenantID *int64) (*batch.ImportReport, error)
}

// BatchHandlers serves batch assignment and bulk import
type BatchHandlers struct {
	assigner ScopeAssigner
	importer Importer
}

// NewBatchHandlers creates batch handlers
func NewBatchHandlers(assigner ScopeAssigner, importer Importer) *BatchHandlers {
	return &BatchHandlers{assigner: assigner, importer: importer}
}

// RegisterRoutes registers batch routes on an authenticated router
func (h *BatchHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/assignments/batch", h.AssignToScopes).Methods("POST")
	router.HandleFunc("/v1/assignments/import", h.Import).Methods("POST")
}

// AssignToScopes assigns one role across several scopes. Per-scope failures
// are reported in the body; the status is 200 whenever the request was well
// formed.
func (h *BatchHandlers) AssignToScopes(w http.ResponseWriter, r *http.Request) {
	var req BatchAssignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.assigner.AssignToScopes(r.Context(), batch.BatchRequest{
		UserID:   req.UserID,
		RoleID:   req.RoleID,
		Scopes:   req.Scopes,
		ActorID:  actorFrom(r),
		TenantID: tenantFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, batchViewOf(resp))
}

// Import applies a bulk import and returns the row report. Created
// assignments carry their confirmation code like a single create does.
func (h *BatchHandlers) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	report, err := h.importer.Import(r.Context(), req.Rows, actorFrom(r), tenantFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, importViewOf(report))
}
