package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/async"
	"github.com/platinummonkey/grants/pkg/audit"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/observability"
)

// DefaultMaxImportRows caps one import when no limit is configured
const DefaultMaxImportRows = 5000

// Lookup resolves the non-numeric identifiers an import row may carry
type Lookup interface {
	UserByEmail(ctx context.Context, email string) (*directory.User, error)
	RoleByCode(ctx context.Context, code string) (*directory.Role, error)
}

// ImportRow is one raw row of a bulk import
type ImportRow struct {
	UserIdentifier  string `json:"user"`
	RoleIdentifier  string `json:"role"`
	ScopeIdentifier string `json:"scope"`
}

// RowError reports why one row did not produce an assignment
type RowError struct {
	RowIndex int    `json:"row"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.RowIndex, e.Code, e.Reason)
}

// ImportReport summarizes a bulk import. RowErrors is sorted by RowIndex and
// Created follows row order.
type ImportReport struct {
	TotalRows int                       `json:"total_rows"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Status    Status                    `json:"status"`
	RowErrors []RowError                `json:"row_errors"`
	Created   []*assignments.Assignment `json:"created"`
}

// Importer creates assignments from raw rows. Every row is an independent
// unit of work.
type Importer struct {
	creator Creator
	lookup  Lookup
	maxRows int
	opts    Options
}

// NewImporter creates an importer. maxRows <= 0 uses DefaultMaxImportRows.
func NewImporter(creator Creator, lookup Lookup, maxRows int, opts Options) *Importer {
	if maxRows <= 0 {
		maxRows = DefaultMaxImportRows
	}
	return &Importer{creator: creator, lookup: lookup, maxRows: maxRows, opts: opts.withDefaults()}
}

// Import resolves and creates every row. A non-nil tenantID applies the same
// organization check as a single create. Only an empty or oversized import
// fails the call; row problems land in the report.
func (im *Importer) Import(ctx context.Context, rows []ImportRow, actorID, tenantID *int64) (report *ImportReport, err error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: import has no rows", assignments.ErrValidation)
	}
	if len(rows) > im.maxRows {
		return nil, fmt.Errorf("%w: import has %d rows, limit is %d", assignments.ErrValidation, len(rows), im.maxRows)
	}

	ctx, span := observability.StartSpan(ctx, "batch.Import", attribute.Int("rows", len(rows)))
	defer func() { observability.EndSpan(span, err) }()

	results := async.Map(ctx, rows, im.opts.Workers, "bulk import", im.opts.ItemTimeout,
		func(ctx context.Context, _ int, row ImportRow) (*assignments.Assignment, error) {
			req, err := im.resolve(ctx, row)
			if err != nil {
				return nil, err
			}
			req.ActorID = actorID
			req.TenantID = tenantID
			return im.creator.Create(ctx, req)
		})

	var acc Accumulator
	report = &ImportReport{
		TotalRows: len(rows),
		RowErrors: []RowError{},
		Created:   []*assignments.Assignment{},
	}
	for i, r := range results {
		if r.Err == nil {
			acc.Add(OutcomeCreated)
			report.Created = append(report.Created, r.Value)
			continue
		}

		code := assignments.Code(r.Err)
		if code == assignments.CodeDuplicateGrant {
			acc.Add(OutcomeDuplicate)
		} else {
			acc.Add(OutcomeError)
		}
		if code == assignments.CodeInternal {
			im.opts.Logger.WithError(r.Err).WithField("row", i).Error("Import row failed")
		}
		report.RowErrors = append(report.RowErrors, RowError{RowIndex: i, Code: code, Reason: r.Err.Error()})
	}
	sort.Slice(report.RowErrors, func(a, b int) bool {
		return report.RowErrors[a].RowIndex < report.RowErrors[b].RowIndex
	})

	created, _, _ := acc.Counts()
	report.Succeeded = created
	report.Failed = acc.Failed()
	report.Status = acc.Status()

	im.opts.Metrics.RecordImport(report.Succeeded, report.Failed)
	im.recordAudit(ctx, actorID, report)
	return report, nil
}

func (im *Importer) resolve(ctx context.Context, row ImportRow) (assignments.CreateRequest, error) {
	userRef, err := ParseUserIdentifier(row.UserIdentifier)
	if err != nil {
		return assignments.CreateRequest{}, err
	}
	roleRef, err := ParseRoleIdentifier(row.RoleIdentifier)
	if err != nil {
		return assignments.CreateRequest{}, err
	}
	scope, err := ParseScopeIdentifier(row.ScopeIdentifier)
	if err != nil {
		return assignments.CreateRequest{}, err
	}

	req := assignments.CreateRequest{UserID: userRef.ID, RoleID: roleRef.ID, Scope: scope}
	if userRef.Email != "" {
		u, err := im.lookup.UserByEmail(ctx, userRef.Email)
		if err != nil {
			return req, notFound("user", userRef.Email, err)
		}
		req.UserID = u.ID
	}
	if roleRef.Code != "" {
		r, err := im.lookup.RoleByCode(ctx, roleRef.Code)
		if err != nil {
			return req, notFound("role", roleRef.Code, err)
		}
		req.RoleID = r.ID
	}
	return req, nil
}

func notFound(what, ident string, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", assignments.ErrNotFound, what, ident)
	}
	return fmt.Errorf("resolving %s %s: %w", what, ident, err)
}

func (im *Importer) recordAudit(ctx context.Context, actorID *int64, report *ImportReport) {
	event := &audit.Event{
		EventType: audit.EventTypeAssignmentImport,
		Status:    audit.EventStatusSuccess,
		ActorID:   actorID,
		Message:   "bulk import",
		Metadata: map[string]interface{}{
			"total_rows": report.TotalRows,
			"succeeded":  report.Succeeded,
			"failed":     report.Failed,
		},
	}
	if report.Status == StatusFailed {
		event.Status = audit.EventStatusFailure
	}
	if err := im.opts.Audit.Log(ctx, event); err != nil {
		im.opts.Logger.WithError(err).Warn("Failed to write audit event")
	}
}
