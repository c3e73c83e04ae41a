package api

import (
	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/batch"
)

// CreateAssignmentRequest is the body of POST /v1/assignments
type CreateAssignmentRequest struct {
	UserID int64             `json:"user_id"`
	RoleID int64             `json:"role_id"`
	Scope  assignments.Scope `json:"scope"`
}

// ConfirmRequest is the body of POST /v1/assignments/{id}/confirm
type ConfirmRequest struct {
	ConfirmationCode string `json:"confirmation_code"`
}

// VerifyRequest is the body of POST /v1/public/verify
type VerifyRequest struct {
	AssignmentCode   string `json:"assignment_code"`
	ConfirmationCode string `json:"confirmation_code"`
}

// VerifyResponse is the public verification result
type VerifyResponse struct {
	Status assignments.Status `json:"status"`
}

// BatchAssignRequest is the body of POST /v1/assignments/batch
type BatchAssignRequest struct {
	UserID int64               `json:"user_id"`
	RoleID int64               `json:"role_id"`
	Scopes []assignments.Scope `json:"scopes"`
}

// ImportRequest is the body of POST /v1/assignments/import
type ImportRequest struct {
	Rows []batch.ImportRow `json:"rows"`
}

// AssignmentView is an assignment as returned to API callers.
// ConfirmationCode is only filled for the creator while the assignment is
// still pending.
type AssignmentView struct {
	*assignments.Assignment
	ConfirmationCode string `json:"confirmation_code,omitempty"`
}

// ListAssignmentsResponse wraps a user's assignments
type ListAssignmentsResponse struct {
	UserID      int64             `json:"user_id"`
	Assignments []*AssignmentView `json:"assignments"`
}

func viewOf(a *assignments.Assignment, withCode bool) *AssignmentView {
	v := &AssignmentView{Assignment: a}
	if withCode && a.Status == assignments.StatusPendingConfirmation {
		v.ConfirmationCode = a.ConfirmationCode
	}
	return v
}

// ScopeResultView is a per-scope batch outcome with the created assignment
// rendered for its creator
type ScopeResultView struct {
	batch.ScopeResult
	Assignment *AssignmentView `json:"assignment,omitempty"`
}

// BatchResponseView is the body returned by POST /v1/assignments/batch
type BatchResponseView struct {
	*batch.BatchResponse
	Results []ScopeResultView `json:"results"`
}

// ImportReportView is the body returned by POST /v1/assignments/import
type ImportReportView struct {
	*batch.ImportReport
	Created []*AssignmentView `json:"created"`
}

func batchViewOf(resp *batch.BatchResponse) *BatchResponseView {
	v := &BatchResponseView{BatchResponse: resp, Results: make([]ScopeResultView, 0, len(resp.Results))}
	for _, res := range resp.Results {
		rv := ScopeResultView{ScopeResult: res}
		if res.Assignment != nil {
			rv.Assignment = viewOf(res.Assignment, true)
		}
		v.Results = append(v.Results, rv)
	}
	return v
}

func importViewOf(report *batch.ImportReport) *ImportReportView {
	v := &ImportReportView{ImportReport: report, Created: make([]*AssignmentView, 0, len(report.Created))}
	for _, a := range report.Created {
		v.Created = append(v.Created, viewOf(a, true))
	}
	return v
}
