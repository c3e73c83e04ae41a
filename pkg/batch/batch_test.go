package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/audit"
	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/codes"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/storage/storagetest"
)

type batchEnv struct {
	mgr       *assignments.Manager
	dir       *directory.SQLDirectory
	audit     *audit.MemoryLogger
	userID    int64
	roleID    int64
	nurseID   int64
	hospitals []int64
}

func setupBatchEnv(t *testing.T) *batchEnv {
	t.Helper()
	ctx := context.Background()

	db := storagetest.OpenSQLite(t, directory.MigrationSet(), assignments.MigrationSet())
	fx := directory.NewFixtures(db)

	env := &batchEnv{dir: directory.NewSQLDirectory(db), audit: audit.NewMemoryLogger()}

	var err error
	env.userID, err = fx.User(ctx, "Ada Obi", "ada@example.com", "")
	require.NoError(t, err)
	_, err = fx.User(ctx, "Ben Kay", "ben@example.com", "")
	require.NoError(t, err)
	env.roleID, err = fx.Role(ctx, catalog.RoleDoctor, "Doctor")
	require.NoError(t, err)
	env.nurseID, err = fx.Role(ctx, catalog.RoleNurse, "Nurse")
	require.NoError(t, err)
	orgID, err := fx.Organization(ctx, "Acme Health")
	require.NoError(t, err)
	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		id, err := fx.Hospital(ctx, name, &orgID)
		require.NoError(t, err)
		env.hospitals = append(env.hospitals, id)
	}

	env.mgr = assignments.NewManager(assignments.NewSQLStore(db), env.dir, codes.NewGenerator(),
		assignments.WithAuditLogger(env.audit))
	return env
}

func TestAccumulator(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     Status
	}{
		{"all created", []Outcome{OutcomeCreated, OutcomeCreated}, StatusComplete},
		{"mixed", []Outcome{OutcomeCreated, OutcomeDuplicate, OutcomeError}, StatusPartial},
		{"none created", []Outcome{OutcomeDuplicate, OutcomeError}, StatusFailed},
		{"empty", nil, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc Accumulator
			for _, o := range tt.outcomes {
				acc.Add(o)
			}
			assert.Equal(t, tt.want, acc.Status())
		})
	}
}

func TestAccumulator_Concurrent(t *testing.T) {
	var acc Accumulator
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				acc.Add(OutcomeError)
				return
			}
			acc.Add(OutcomeCreated)
		}(i)
	}
	wg.Wait()

	created, dup, errs := acc.Counts()
	assert.Equal(t, 40, created)
	assert.Equal(t, 0, dup)
	assert.Equal(t, 10, errs)
	assert.Equal(t, 10, acc.Failed())
	assert.Equal(t, StatusPartial, acc.Status())
}

func TestScopeAssigner_PartialWithDuplicate(t *testing.T) {
	ctx := context.Background()
	env := setupBatchEnv(t)

	_, err := env.mgr.Create(ctx, assignments.CreateRequest{
		UserID: env.userID,
		RoleID: env.roleID,
		Scope:  assignments.HospitalScope(env.hospitals[1]),
	})
	require.NoError(t, err)

	assigner := NewScopeAssigner(env.mgr, Options{Workers: 3, Audit: env.audit})
	resp, err := assigner.AssignToScopes(ctx, BatchRequest{
		UserID: env.userID,
		RoleID: env.roleID,
		Scopes: []assignments.Scope{
			assignments.HospitalScope(env.hospitals[0]),
			assignments.HospitalScope(env.hospitals[1]),
			assignments.HospitalScope(env.hospitals[2]),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, 2, resp.Created)
	assert.Equal(t, 1, resp.Duplicates)
	assert.Equal(t, 0, resp.Errors)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, OutcomeCreated, resp.Results[0].Outcome)
	assert.Equal(t, OutcomeDuplicate, resp.Results[1].Outcome)
	assert.Equal(t, assignments.CodeDuplicateGrant, resp.Results[1].Code)
	assert.Equal(t, OutcomeCreated, resp.Results[2].Outcome)

	for i, r := range resp.Results {
		assert.Equal(t, assignments.HospitalScope(env.hospitals[i]), r.Scope)
	}
	require.NotNil(t, resp.Results[2].Assignment)
	assert.Equal(t, assignments.StatusPendingConfirmation, resp.Results[2].Assignment.Status)

	batches := env.audit.OfType(audit.EventTypeAssignmentBatch)
	require.Len(t, batches, 1)
	assert.Equal(t, "PARTIAL", batches[0].Metadata["status"])
}

func TestScopeAssigner_AllFail(t *testing.T) {
	ctx := context.Background()
	env := setupBatchEnv(t)

	assigner := NewScopeAssigner(env.mgr, Options{})
	resp, err := assigner.AssignToScopes(ctx, BatchRequest{
		UserID: env.userID,
		RoleID: env.roleID,
		Scopes: []assignments.Scope{
			assignments.HospitalScope(99999),
			{Kind: "ward", ID: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, 2, resp.Errors)
	assert.Equal(t, assignments.CodeNotFound, resp.Results[0].Code)
	assert.Equal(t, assignments.CodeValidation, resp.Results[1].Code)
}

func TestScopeAssigner_EmptyScopes(t *testing.T) {
	assigner := NewScopeAssigner(&fakeCreator{}, Options{})

	_, err := assigner.AssignToScopes(context.Background(), BatchRequest{UserID: 1, RoleID: 1})
	assert.ErrorIs(t, err, assignments.ErrValidation)
}

func TestScopeAssigner_RepeatedScope(t *testing.T) {
	ctx := context.Background()
	env := setupBatchEnv(t)

	assigner := NewScopeAssigner(env.mgr, Options{Workers: 2})
	scope := assignments.HospitalScope(env.hospitals[0])
	resp, err := assigner.AssignToScopes(ctx, BatchRequest{
		UserID: env.userID,
		RoleID: env.roleID,
		Scopes: []assignments.Scope{scope, scope},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, 1, resp.Duplicates)
}

type fakeCreator struct {
	mu    sync.Mutex
	calls int
	fail  map[int64]error
}

func (f *fakeCreator) Create(ctx context.Context, req assignments.CreateRequest) (*assignments.Assignment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.fail[req.Scope.ID]; ok {
		return nil, err
	}
	return &assignments.Assignment{UserID: req.UserID, RoleID: req.RoleID, Scope: req.Scope}, nil
}

func TestScopeAssigner_ItemErrorsDoNotAbort(t *testing.T) {
	creator := &fakeCreator{fail: map[int64]error{
		2: errors.New("connection reset"),
		3: fmt.Errorf("%w: hospital 3 belongs to another organization", assignments.ErrBusinessRule),
	}}
	assigner := NewScopeAssigner(creator, Options{Workers: 2})

	resp, err := assigner.AssignToScopes(context.Background(), BatchRequest{
		UserID: 1,
		RoleID: 1,
		Scopes: []assignments.Scope{
			assignments.HospitalScope(1),
			assignments.HospitalScope(2),
			assignments.HospitalScope(3),
			assignments.HospitalScope(4),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, creator.calls)
	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, assignments.CodeInternal, resp.Results[1].Code)
	assert.Equal(t, assignments.CodeBusinessRule, resp.Results[2].Code)
	assert.Equal(t, OutcomeCreated, resp.Results[3].Outcome)
}

func TestParseIdentifiers(t *testing.T) {
	t.Run("user", func(t *testing.T) {
		ref, err := ParseUserIdentifier(" 12 ")
		require.NoError(t, err)
		assert.Equal(t, UserRef{ID: 12}, ref)

		ref, err = ParseUserIdentifier("Ada@Example.com")
		require.NoError(t, err)
		assert.Equal(t, UserRef{Email: "ada@example.com"}, ref)

		for _, bad := range []string{"", "0", "-3", "ada", "@example.com"} {
			_, err := ParseUserIdentifier(bad)
			assert.ErrorIs(t, err, assignments.ErrValidation, bad)
		}
	})

	t.Run("role", func(t *testing.T) {
		ref, err := ParseRoleIdentifier("role_doctor")
		require.NoError(t, err)
		assert.Equal(t, RoleRef{Code: "ROLE_DOCTOR"}, ref)

		ref, err = ParseRoleIdentifier("7")
		require.NoError(t, err)
		assert.Equal(t, RoleRef{ID: 7}, ref)

		for _, bad := range []string{"", "doctor", "ROLE_"} {
			_, err := ParseRoleIdentifier(bad)
			assert.ErrorIs(t, err, assignments.ErrValidation, bad)
		}
	})

	t.Run("scope", func(t *testing.T) {
		tests := map[string]assignments.Scope{
			"":                assignments.GlobalScope(),
			"GLOBAL":          assignments.GlobalScope(),
			"15":              assignments.HospitalScope(15),
			"hospital:4":      assignments.HospitalScope(4),
			"organization:2":  assignments.OrganizationScope(2),
			" Organization:2": assignments.OrganizationScope(2),
		}
		for in, want := range tests {
			got, err := ParseScopeIdentifier(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}

		for _, bad := range []string{"0", "ward:3", "hospital:x"} {
			_, err := ParseScopeIdentifier(bad)
			assert.ErrorIs(t, err, assignments.ErrValidation, bad)
		}
	})
}

func TestImporter_RowErrorKeepsOthers(t *testing.T) {
	ctx := context.Background()
	env := setupBatchEnv(t)

	rows := []ImportRow{
		{UserIdentifier: "ada@example.com", RoleIdentifier: catalog.RoleDoctor, ScopeIdentifier: fmt.Sprint(env.hospitals[0])},
		{UserIdentifier: "ben@example.com", RoleIdentifier: catalog.RoleNurse, ScopeIdentifier: "GLOBAL"},
		{UserIdentifier: fmt.Sprint(env.userID), RoleIdentifier: fmt.Sprint(env.nurseID), ScopeIdentifier: fmt.Sprintf("hospital:%d", env.hospitals[1])},
		{UserIdentifier: "ada@example.com", RoleIdentifier: "ROLE_ASTRONAUT", ScopeIdentifier: "GLOBAL"},
		{UserIdentifier: "ben@example.com", RoleIdentifier: catalog.RoleDoctor, ScopeIdentifier: fmt.Sprint(env.hospitals[2])},
	}

	actor := int64(9)
	im := NewImporter(env.mgr, env.dir, 0, Options{Workers: 3, Audit: env.audit})
	report, err := im.Import(ctx, rows, &actor, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalRows)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, StatusPartial, report.Status)
	require.Len(t, report.RowErrors, 1)
	assert.Equal(t, 3, report.RowErrors[0].RowIndex)
	assert.Equal(t, assignments.CodeNotFound, report.RowErrors[0].Code)
	assert.Contains(t, report.RowErrors[0].Reason, "ROLE_ASTRONAUT")

	require.Len(t, report.Created, 4)
	assert.Equal(t, env.userID, report.Created[0].UserID)
	assert.Equal(t, assignments.GlobalScope(), report.Created[1].Scope.Normalize())

	imports := env.audit.OfType(audit.EventTypeAssignmentImport)
	require.Len(t, imports, 1)
	require.NotNil(t, imports[0].ActorID)
	assert.Equal(t, actor, *imports[0].ActorID)
}

func TestImporter_ErrorsSortedByRow(t *testing.T) {
	ctx := context.Background()
	env := setupBatchEnv(t)

	rows := make([]ImportRow, 0, 12)
	for i := 0; i < 12; i++ {
		row := ImportRow{UserIdentifier: "ada@example.com", RoleIdentifier: catalog.RoleDoctor, ScopeIdentifier: "GLOBAL"}
		if i%3 == 1 {
			row.UserIdentifier = "not-a-user"
		}
		rows = append(rows, row)
	}

	im := NewImporter(env.mgr, env.dir, 0, Options{Workers: 4})
	report, err := im.Import(ctx, rows, nil, nil)
	require.NoError(t, err)

	// One global grant succeeds; the rest are malformed or duplicates
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 11, report.Failed)
	require.Len(t, report.RowErrors, 11)

	for i := 1; i < len(report.RowErrors); i++ {
		assert.Less(t, report.RowErrors[i-1].RowIndex, report.RowErrors[i].RowIndex)
	}
	for _, re := range report.RowErrors {
		if re.RowIndex%3 == 1 {
			assert.Equal(t, assignments.CodeValidation, re.Code)
		} else {
			assert.Equal(t, assignments.CodeDuplicateGrant, re.Code)
		}
	}
}

func TestImporter_Limits(t *testing.T) {
	im := NewImporter(&fakeCreator{}, nil, 2, Options{})

	_, err := im.Import(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, assignments.ErrValidation)

	rows := []ImportRow{{}, {}, {}}
	_, err = im.Import(context.Background(), rows, nil, nil)
	assert.ErrorIs(t, err, assignments.ErrValidation)
}

func TestRowError_Error(t *testing.T) {
	err := &RowError{RowIndex: 4, Code: assignments.CodeValidation, Reason: "bad scope"}
	assert.Equal(t, "row 4: VALIDATION_ERROR: bad scope", err.Error())
}
