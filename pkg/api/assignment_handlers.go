package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/middleware"
	"github.com/platinummonkey/grants/pkg/observability"
)

// AssignmentService is the lifecycle surface the handlers drive
type AssignmentService interface {
	Create(ctx context.Context, req assignments.CreateRequest) (*assignments.Assignment, error)
	Get(ctx context.Context, id int64) (*assignments.Assignment, error)
	Confirm(ctx context.Context, id int64, code string) (*assignments.Assignment, error)
	Verify(ctx context.Context, assignmentCode, code string) (*assignments.Assignment, error)
	Revoke(ctx context.Context, id int64, actorID *int64) (*assignments.Assignment, error)
	RegenerateCode(ctx context.Context, id int64, opts assignments.RegenerateOptions) (*assignments.Assignment, error)
	Purge(ctx context.Context, id int64, actorID *int64) error
	ListForUser(ctx context.Context, userID int64) ([]*assignments.Assignment, error)
}

// AssignmentHandlers serves the administrative assignment routes
type AssignmentHandlers struct {
	service AssignmentService
}

// NewAssignmentHandlers creates assignment handlers
func NewAssignmentHandlers(service AssignmentService) *AssignmentHandlers {
	return &AssignmentHandlers{service: service}
}

// RegisterRoutes registers assignment routes on an authenticated router
func (h *AssignmentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/assignments", h.CreateAssignment).Methods("POST")
	router.HandleFunc("/v1/assignments/{id:[0-9]+}", h.GetAssignment).Methods("GET")
	router.HandleFunc("/v1/assignments/{id:[0-9]+}", h.PurgeAssignment).Methods("DELETE")
	router.HandleFunc("/v1/assignments/{id:[0-9]+}/confirm", h.ConfirmAssignment).Methods("POST")
	router.HandleFunc("/v1/assignments/{id:[0-9]+}/revoke", h.RevokeAssignment).Methods("POST")
	router.HandleFunc("/v1/assignments/{id:[0-9]+}/regenerate", h.RegenerateCode).Methods("POST")
	router.HandleFunc("/v1/users/{id:[0-9]+}/assignments", h.ListUserAssignments).Methods("GET")
}

func actorFrom(r *http.Request) *int64 {
	if id, ok := observability.GetActorID(r.Context()); ok {
		return &id
	}
	return nil
}

func tenantFrom(r *http.Request) *int64 {
	if id, ok := middleware.TenantFromContext(r.Context()); ok {
		return &id
	}
	return nil
}

// CreateAssignment creates a pending assignment. The response carries the
// confirmation code for the creator.
func (h *AssignmentHandlers) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	a, err := h.service.Create(r.Context(), assignments.CreateRequest{
		UserID:   req.UserID,
		RoleID:   req.RoleID,
		Scope:    req.Scope,
		ActorID:  actorFrom(r),
		TenantID: tenantFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, viewOf(a, true))
}

// GetAssignment returns one assignment
func (h *AssignmentHandlers) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, viewOf(a, false))
}

// ConfirmAssignment consumes the creator's confirmation code
func (h *AssignmentHandlers) ConfirmAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req ConfirmRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	a, err := h.service.Confirm(r.Context(), id, req.ConfirmationCode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, viewOf(a, false))
}

// RevokeAssignment deactivates an assignment. Revoking twice is not an error.
func (h *AssignmentHandlers) RevokeAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.Revoke(r.Context(), id, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, viewOf(a, false))
}

// RegenerateCode issues a fresh confirmation code. Query parameters resend
// and rotate select RegenerateOptions.
func (h *AssignmentHandlers) RegenerateCode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	resend, err := httputil.ParseQueryBool(r, "resend", false)
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, assignments.CodeValidation, err.Error())
		return
	}
	rotate, err := httputil.ParseQueryBool(r, "rotate", false)
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, assignments.CodeValidation, err.Error())
		return
	}

	a, err := h.service.RegenerateCode(r.Context(), id, assignments.RegenerateOptions{
		Resend:               resend,
		RotateAssignmentCode: rotate,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, viewOf(a, true))
}

// PurgeAssignment hard-deletes a revoked assignment
func (h *AssignmentHandlers) PurgeAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Purge(r.Context(), id, actorFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListUserAssignments returns every assignment of a user, revoked included
func (h *AssignmentHandlers) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	list, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := ListAssignmentsResponse{UserID: userID, Assignments: make([]*AssignmentView, 0, len(list))}
	for _, a := range list {
		resp.Assignments = append(resp.Assignments, viewOf(a, false))
	}
	_ = httputil.WriteSuccess(w, resp)
}
