package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/observability"
)

const verificationFailed = "verification failed"

// VerificationHandlers serves the unauthenticated verification route
type VerificationHandlers struct {
	service AssignmentService
}

// NewVerificationHandlers creates verification handlers
func NewVerificationHandlers(service AssignmentService) *VerificationHandlers {
	return &VerificationHandlers{service: service}
}

// RegisterRoutes registers the public route on a rate-limited router
func (h *VerificationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/public/verify", h.Verify).Methods("POST")
}

// Verify consumes an assignment code and confirmation code pair. Every
// client-side failure gets the same body so callers cannot probe which
// assignment codes exist.
func (h *VerificationHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, verificationFailed)
		return
	}

	a, err := h.service.Verify(r.Context(), req.AssignmentCode, req.ConfirmationCode)
	if err != nil {
		if assignments.Code(err) == assignments.CodeInternal {
			observability.FromContext(r.Context()).WithError(err).Error("Verification failed unexpectedly")
			httputil.WriteInternalError(w)
			return
		}
		httputil.WriteErrorMessage(w, http.StatusBadRequest, verificationFailed)
		return
	}
	_ = httputil.WriteSuccess(w, VerifyResponse{Status: a.Status})
}
