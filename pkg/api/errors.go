package api

import (
	"net/http"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/observability"
)

// statusFor maps an error code to its HTTP status
func statusFor(code string) int {
	switch code {
	case assignments.CodeNotFound:
		return http.StatusNotFound
	case assignments.CodeDuplicateGrant:
		return http.StatusConflict
	case assignments.CodeValidation, assignments.CodeInvalidCode, assignments.CodeVerificationFailed:
		return http.StatusBadRequest
	case assignments.CodeBusinessRule, assignments.CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and never echoed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := assignments.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteErrorCode(w, status, code, err.Error())
}
