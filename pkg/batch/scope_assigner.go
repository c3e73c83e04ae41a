package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/async"
	"github.com/platinummonkey/grants/pkg/audit"
	"github.com/platinummonkey/grants/pkg/observability"
)

// Creator creates one assignment in its own transaction
type Creator interface {
	Create(ctx context.Context, req assignments.CreateRequest) (*assignments.Assignment, error)
}

// Options tunes fan-out for ScopeAssigner and Importer
type Options struct {
	Workers     int
	ItemTimeout time.Duration
	Metrics     *observability.Metrics
	Audit       audit.Logger
	Logger      *observability.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 10 * time.Second
	}
	if o.Audit == nil {
		o.Audit = audit.NewNoOpLogger()
	}
	if o.Logger == nil {
		o.Logger = observability.NewNopLogger()
	}
	return o
}

// BatchRequest assigns one role to one user across several scopes
type BatchRequest struct {
	UserID   int64               `json:"user_id"`
	RoleID   int64               `json:"role_id"`
	Scopes   []assignments.Scope `json:"scopes"`
	ActorID  *int64              `json:"-"`
	TenantID *int64              `json:"tenant_id,omitempty"`
}

// ScopeResult is the outcome for one requested scope
type ScopeResult struct {
	Scope      assignments.Scope       `json:"scope"`
	Outcome    Outcome                 `json:"outcome"`
	Code       string                  `json:"code,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	Assignment *assignments.Assignment `json:"assignment,omitempty"`
}

// BatchResponse reports every scope in request order
type BatchResponse struct {
	UserID     int64         `json:"user_id"`
	RoleID     int64         `json:"role_id"`
	Status     Status        `json:"status"`
	Results    []ScopeResult `json:"results"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Errors     int           `json:"errors"`
}

// ScopeAssigner creates one assignment per scope. Each scope is its own
// transaction; one failure never aborts the others.
type ScopeAssigner struct {
	creator Creator
	opts    Options
}

// NewScopeAssigner creates a batch assigner
func NewScopeAssigner(creator Creator, opts Options) *ScopeAssigner {
	return &ScopeAssigner{creator: creator, opts: opts.withDefaults()}
}

// AssignToScopes fans the request out across scopes. Only an empty scope list
// fails the call; every other problem is reported per scope. When the same
// scope appears twice, one entry is CREATED and the other DUPLICATE, and
// which one wins is not defined.
func (s *ScopeAssigner) AssignToScopes(ctx context.Context, req BatchRequest) (resp *BatchResponse, err error) {
	if len(req.Scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", assignments.ErrValidation)
	}

	ctx, span := observability.StartSpan(ctx, "batch.AssignToScopes",
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("role_id", req.RoleID),
		attribute.Int("scopes", len(req.Scopes)),
	)
	defer func() { observability.EndSpan(span, err) }()

	results := async.Map(ctx, req.Scopes, s.opts.Workers, "batch scope assignment", s.opts.ItemTimeout,
		func(ctx context.Context, _ int, scope assignments.Scope) (*assignments.Assignment, error) {
			return s.creator.Create(ctx, assignments.CreateRequest{
				UserID:   req.UserID,
				RoleID:   req.RoleID,
				Scope:    scope,
				ActorID:  req.ActorID,
				TenantID: req.TenantID,
			})
		})

	var acc Accumulator
	resp = &BatchResponse{
		UserID:  req.UserID,
		RoleID:  req.RoleID,
		Results: make([]ScopeResult, len(results)),
	}
	for i, r := range results {
		result := ScopeResult{Scope: req.Scopes[i].Normalize()}
		switch {
		case r.Err == nil:
			result.Outcome = OutcomeCreated
			result.Assignment = r.Value
		case errors.Is(r.Err, assignments.ErrDuplicateGrant):
			result.Outcome = OutcomeDuplicate
			result.Code = assignments.CodeDuplicateGrant
			result.Reason = r.Err.Error()
		default:
			result.Outcome = OutcomeError
			result.Code = assignments.Code(r.Err)
			result.Reason = r.Err.Error()
			if result.Code == assignments.CodeInternal {
				s.opts.Logger.WithError(r.Err).WithField("scope", result.Scope.Key()).Error("Batch scope assignment failed")
			}
		}
		acc.Add(result.Outcome)
		s.opts.Metrics.RecordBatchItem(string(result.Outcome))
		resp.Results[i] = result
	}

	resp.Created, resp.Duplicates, resp.Errors = acc.Counts()
	resp.Status = acc.Status()

	s.recordAudit(ctx, req, resp)
	return resp, nil
}

func (s *ScopeAssigner) recordAudit(ctx context.Context, req BatchRequest, resp *BatchResponse) {
	event := &audit.Event{
		EventType: audit.EventTypeAssignmentBatch,
		Status:    audit.EventStatusSuccess,
		ActorID:   req.ActorID,
		SubjectID: &req.UserID,
		Message:   "batch scope assignment",
		Metadata: map[string]interface{}{
			"role_id":    req.RoleID,
			"status":     string(resp.Status),
			"created":    resp.Created,
			"duplicates": resp.Duplicates,
			"errors":     resp.Errors,
		},
	}
	if resp.Status == StatusFailed {
		event.Status = audit.EventStatusFailure
	}
	if err := s.opts.Audit.Log(ctx, event); err != nil {
		s.opts.Logger.WithError(err).Warn("Failed to write audit event")
	}
}
