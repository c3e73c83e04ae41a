package assignments

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grants/pkg/audit"
	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/codes"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/storage/storagetest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingDispatcher struct {
	ids chan string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, id string) error {
	d.ids <- id
	return nil
}

type testEnv struct {
	db         *sql.DB
	store      *SQLStore
	mgr        *Manager
	clock      *fakeClock
	audit      *audit.MemoryLogger
	dispatched chan string

	userID     int64
	roleID     int64
	orgID      int64
	hospitalID int64
	otherOrgID int64
	foreignID  int64
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := storagetest.OpenSQLite(t, directory.MigrationSet(), MigrationSet())
	fx := directory.NewFixtures(db)

	env := &testEnv{
		db:         db,
		store:      NewSQLStore(db),
		clock:      &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		audit:      audit.NewMemoryLogger(),
		dispatched: make(chan string, 16),
	}

	var err error
	env.userID, err = fx.User(ctx, "Ada Obi", "ada@example.com", "")
	require.NoError(t, err)
	env.roleID, err = fx.Role(ctx, catalog.RoleDoctor, "Doctor")
	require.NoError(t, err)
	env.orgID, err = fx.Organization(ctx, "Acme Health")
	require.NoError(t, err)
	env.hospitalID, err = fx.Hospital(ctx, "Alpha General", &env.orgID)
	require.NoError(t, err)
	env.otherOrgID, err = fx.Organization(ctx, "Other Health")
	require.NoError(t, err)
	env.foreignID, err = fx.Hospital(ctx, "Beta Clinic", &env.otherOrgID)
	require.NoError(t, err)

	env.mgr = NewManager(env.store, directory.NewSQLDirectory(db), codes.NewGenerator(),
		WithClock(env.clock.Now),
		WithAuditLogger(env.audit),
		WithDispatcher(&recordingDispatcher{ids: env.dispatched}),
	)
	return env
}

func (e *testEnv) create(t *testing.T, scope Scope) *Assignment {
	t.Helper()
	a, err := e.mgr.Create(context.Background(), CreateRequest{UserID: e.userID, RoleID: e.roleID, Scope: scope})
	require.NoError(t, err)
	return a
}

func (e *testEnv) pendingNotes(t *testing.T) []*Notification {
	t.Helper()
	notes, err := e.store.PendingNotifications(context.Background(), e.clock.Now().Add(time.Hour), 5, 100)
	require.NoError(t, err)
	return notes
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	actor := int64(42)
	a, err := env.mgr.Create(ctx, CreateRequest{
		UserID:  env.userID,
		RoleID:  env.roleID,
		Scope:   HospitalScope(env.hospitalID),
		ActorID: &actor,
	})
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.True(t, a.Active)
	assert.Equal(t, StatusPendingConfirmation, a.Status)
	assert.Len(t, a.AssignmentCode, 26)
	assert.NotEmpty(t, a.ConfirmationCode)
	require.NotNil(t, a.CreatedBy)
	assert.Equal(t, actor, *a.CreatedBy)

	stored, err := env.store.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, HospitalScope(env.hospitalID), stored.Scope)
	assert.Equal(t, a.ConfirmationCode, stored.ConfirmationCode)
	assert.True(t, stored.CreatedAt.Equal(env.clock.Now()))

	notes := env.pendingNotes(t)
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationPending, notes[0].Kind)
	assert.Empty(t, notes[0].ConfirmationCode, "pending notice carries no code")

	select {
	case id := <-env.dispatched:
		assert.Equal(t, notes[0].ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not dispatched")
	}

	created := env.audit.OfType(audit.EventTypeAssignmentCreate)
	require.Len(t, created, 1)
	assert.Equal(t, audit.EventStatusSuccess, created[0].Status)
	assert.Equal(t, actor, *created[0].ActorID)
}

func TestManager_CreateValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing user", CreateRequest{RoleID: env.roleID}, ErrValidation},
		{"bad scope", CreateRequest{UserID: env.userID, RoleID: env.roleID, Scope: Scope{Kind: ScopeHospital}}, ErrValidation},
		{"unknown user", CreateRequest{UserID: 9999, RoleID: env.roleID}, ErrNotFound},
		{"unknown role", CreateRequest{UserID: env.userID, RoleID: 9999}, ErrNotFound},
		{"unknown hospital", CreateRequest{UserID: env.userID, RoleID: env.roleID, Scope: HospitalScope(9999)}, ErrNotFound},
		{"unknown organization", CreateRequest{UserID: env.userID, RoleID: env.roleID, Scope: OrganizationScope(9999)}, ErrNotFound},
		{
			"hospital outside tenant",
			CreateRequest{UserID: env.userID, RoleID: env.roleID, Scope: HospitalScope(env.foreignID), TenantID: &env.orgID},
			ErrBusinessRule,
		},
		{
			"organization outside tenant",
			CreateRequest{UserID: env.userID, RoleID: env.roleID, Scope: OrganizationScope(env.otherOrgID), TenantID: &env.orgID},
			ErrBusinessRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.mgr.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	a, err := env.mgr.Create(ctx, CreateRequest{
		UserID: env.userID, RoleID: env.roleID, Scope: HospitalScope(env.hospitalID), TenantID: &env.orgID,
	})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
}

func TestManager_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	first := env.create(t, GlobalScope())

	_, err := env.mgr.Create(ctx, CreateRequest{UserID: env.userID, RoleID: env.roleID})
	assert.ErrorIs(t, err, ErrDuplicateGrant)

	// the zero scope and the explicit global scope are the same grant
	_, err = env.mgr.Create(ctx, CreateRequest{UserID: env.userID, RoleID: env.roleID, Scope: Scope{}})
	assert.ErrorIs(t, err, ErrDuplicateGrant)

	// a revoked grant does not block a new one
	_, err = env.mgr.Revoke(ctx, first.ID, nil)
	require.NoError(t, err)
	second := env.create(t, GlobalScope())
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_ConcurrentCreate(t *testing.T) {
	env := setupTestEnv(t)

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.mgr.Create(context.Background(), CreateRequest{
				UserID: env.userID, RoleID: env.roleID, Scope: HospitalScope(env.hospitalID),
			})
		}(i)
	}
	wg.Wait()

	created, duplicates := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateGrant):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, duplicates)
}

func TestManager_ConfirmAndVerify(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	a := env.create(t, OrganizationScope(env.orgID))
	creatorCode := a.ConfirmationCode

	t.Run("wrong code", func(t *testing.T) {
		_, err := env.mgr.Confirm(ctx, a.ID, "not-the-code")
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := env.mgr.Confirm(ctx, 9999, creatorCode)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	env.clock.Advance(time.Minute)
	confirmed, err := env.mgr.Confirm(ctx, a.ID, creatorCode)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.True(t, confirmed.ConfirmedAt.Equal(env.clock.Now()))

	recipientCode := confirmed.ConfirmationCode
	assert.NotEmpty(t, recipientCode)
	assert.NotEqual(t, creatorCode, recipientCode)

	var verifyNote *Notification
	for _, n := range env.pendingNotes(t) {
		if n.Kind == NotificationVerify {
			verifyNote = n
		}
	}
	require.NotNil(t, verifyNote)
	assert.Equal(t, recipientCode, verifyNote.ConfirmationCode)
	assert.Equal(t, a.AssignmentCode, verifyNote.AssignmentCode)

	t.Run("confirm twice", func(t *testing.T) {
		_, err := env.mgr.Confirm(ctx, a.ID, creatorCode)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("creator code cannot verify", func(t *testing.T) {
		_, err := env.mgr.Verify(ctx, a.AssignmentCode, creatorCode)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("unknown assignment code", func(t *testing.T) {
		_, err := env.mgr.Verify(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", recipientCode)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	verified, err := env.mgr.Verify(ctx, a.AssignmentCode, recipientCode)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, verified.Status)
	assert.NotNil(t, verified.VerifiedAt)
	assert.Empty(t, verified.ConfirmationCode)

	t.Run("code is single use", func(t *testing.T) {
		_, err := env.mgr.Verify(ctx, a.AssignmentCode, recipientCode)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.ErrorIs(t, err, ErrInvalidCode)
	})
}

func TestManager_ConcurrentVerify(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	a := env.create(t, GlobalScope())
	confirmed, err := env.mgr.Confirm(ctx, a.ID, a.ConfirmationCode)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		results = make([]error, 4)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.mgr.Verify(ctx, a.AssignmentCode, confirmed.ConfirmationCode)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrVerificationFailed)
	}
	assert.Equal(t, 1, succeeded)
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	a := env.create(t, HospitalScope(env.hospitalID))
	actor := int64(7)

	env.clock.Advance(time.Hour)
	revokedAt := env.clock.Now()
	revoked, err := env.mgr.Revoke(ctx, a.ID, &actor)
	require.NoError(t, err)
	assert.False(t, revoked.Active)
	assert.Equal(t, StatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
	assert.True(t, revoked.RevokedAt.Equal(revokedAt))
	assert.Empty(t, revoked.ConfirmationCode)

	env.clock.Advance(time.Hour)
	again, err := env.mgr.Revoke(ctx, a.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, again.Status)
	assert.True(t, again.RevokedAt.Equal(revokedAt), "revoked_at must not move")
	assert.Len(t, env.audit.OfType(audit.EventTypeAssignmentRevoke), 1)

	_, err = env.mgr.Revoke(ctx, 9999, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.mgr.Confirm(ctx, a.ID, a.ConfirmationCode)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_RegenerateCode(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	t.Run("pending", func(t *testing.T) {
		a := env.create(t, GlobalScope())

		regenerated, err := env.mgr.RegenerateCode(ctx, a.ID, RegenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, StatusPendingConfirmation, regenerated.Status)
		assert.Equal(t, a.AssignmentCode, regenerated.AssignmentCode)
		assert.NotEqual(t, a.ConfirmationCode, regenerated.ConfirmationCode)

		_, err = env.mgr.Confirm(ctx, a.ID, a.ConfirmationCode)
		assert.ErrorIs(t, err, ErrInvalidCode, "old code is invalidated")

		_, err = env.mgr.Confirm(ctx, a.ID, regenerated.ConfirmationCode)
		require.NoError(t, err)
	})

	t.Run("confirmed with resend and rotation", func(t *testing.T) {
		a := env.create(t, OrganizationScope(env.orgID))
		_, err := env.mgr.Confirm(ctx, a.ID, a.ConfirmationCode)
		require.NoError(t, err)

		regenerated, err := env.mgr.RegenerateCode(ctx, a.ID, RegenerateOptions{Resend: true, RotateAssignmentCode: true})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, regenerated.Status)
		assert.NotEqual(t, a.AssignmentCode, regenerated.AssignmentCode)

		var found bool
		for _, n := range env.pendingNotes(t) {
			if n.AssignmentID == a.ID && n.Kind == NotificationVerify && n.AssignmentCode == regenerated.AssignmentCode {
				found = true
				assert.Equal(t, regenerated.ConfirmationCode, n.ConfirmationCode)
			}
		}
		assert.True(t, found, "resend enqueues a verify notice with the new codes")

		_, err = env.mgr.Verify(ctx, a.AssignmentCode, regenerated.ConfirmationCode)
		assert.ErrorIs(t, err, ErrVerificationFailed)

		_, err = env.mgr.Verify(ctx, regenerated.AssignmentCode, regenerated.ConfirmationCode)
		require.NoError(t, err)
	})

	t.Run("confirmed without resend still notifies assignee", func(t *testing.T) {
		a := env.create(t, HospitalScope(env.foreignID))
		_, err := env.mgr.Confirm(ctx, a.ID, a.ConfirmationCode)
		require.NoError(t, err)

		regenerated, err := env.mgr.RegenerateCode(ctx, a.ID, RegenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, regenerated.Status)

		var code string
		for _, n := range env.pendingNotes(t) {
			if n.AssignmentID == a.ID && n.Kind == NotificationVerify && n.ConfirmationCode == regenerated.ConfirmationCode {
				code = n.ConfirmationCode
			}
		}
		require.NotEmpty(t, code, "the new code reaches the assignee")

		verified, err := env.mgr.Verify(ctx, regenerated.AssignmentCode, code)
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, verified.Status)
	})

	t.Run("revoked", func(t *testing.T) {
		a := env.create(t, HospitalScope(env.hospitalID))
		_, err := env.mgr.Revoke(ctx, a.ID, nil)
		require.NoError(t, err)

		_, err = env.mgr.RegenerateCode(ctx, a.ID, RegenerateOptions{Resend: true})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestManager_Purge(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	a := env.create(t, GlobalScope())

	err := env.mgr.Purge(ctx, a.ID, nil)
	assert.ErrorIs(t, err, ErrBusinessRule)

	_, err = env.mgr.Revoke(ctx, a.ID, nil)
	require.NoError(t, err)
	require.NoError(t, env.mgr.Purge(ctx, a.ID, nil))

	_, err = env.mgr.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, env.pendingNotes(t), "outbox rows go with the assignment")

	assert.ErrorIs(t, env.mgr.Purge(ctx, a.ID, nil), ErrNotFound)
}

func TestManager_ListForUser(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	first := env.create(t, GlobalScope())
	env.clock.Advance(time.Second)
	second := env.create(t, HospitalScope(env.hospitalID))

	list, err := env.mgr.ListForUser(ctx, env.userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = env.mgr.ListForUser(ctx, 0)
	assert.ErrorIs(t, err, ErrValidation)
}
