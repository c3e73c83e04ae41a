package directory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/observability"
	"github.com/platinummonkey/grants/pkg/storage/storagetest"
)

func setupTestDB(t *testing.T) (*sql.DB, *Fixtures) {
	t.Helper()
	db := storagetest.OpenSQLite(t, MigrationSet())
	return db, NewFixtures(db)
}

func TestSQLDirectory(t *testing.T) {
	ctx := context.Background()
	db, fx := setupTestDB(t)
	dir := NewSQLDirectory(db)

	userID, err := fx.User(ctx, "Ada Obi", "Ada@Example.com", "+15550100")
	require.NoError(t, err)
	orgID, err := fx.Organization(ctx, "Acme Health")
	require.NoError(t, err)
	hospitalID, err := fx.Hospital(ctx, "Alpha General", &orgID)
	require.NoError(t, err)
	orphanID, err := fx.Hospital(ctx, "Standalone Clinic", nil)
	require.NoError(t, err)
	roleID, err := fx.Role(ctx, catalog.RoleDoctor, "Doctor")
	require.NoError(t, err)

	t.Run("users", func(t *testing.T) {
		u, err := dir.UserByID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Obi", u.DisplayName)
		assert.Equal(t, "+15550100", u.Phone)

		u, err = dir.UserByEmail(ctx, " ada@example.COM ")
		require.NoError(t, err)
		assert.Equal(t, userID, u.ID)

		_, err = dir.UserByID(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("roles", func(t *testing.T) {
		r, err := dir.RoleByCode(ctx, "role_doctor")
		require.NoError(t, err)
		assert.Equal(t, roleID, r.ID)

		r, err = dir.RoleByID(ctx, roleID)
		require.NoError(t, err)
		assert.Equal(t, catalog.RoleDoctor, r.Code)

		_, err = dir.RoleByCode(ctx, "ROLE_NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("scopes", func(t *testing.T) {
		h, err := dir.HospitalByID(ctx, hospitalID)
		require.NoError(t, err)
		require.NotNil(t, h.OrganizationID)
		assert.Equal(t, orgID, *h.OrganizationID)

		h, err = dir.HospitalByID(ctx, orphanID)
		require.NoError(t, err)
		assert.Nil(t, h.OrganizationID)

		o, err := dir.OrganizationByID(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, "Acme Health", o.Name)

		_, err = dir.OrganizationByID(ctx, 777)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLDirectory_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name FROM organizations").
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err = NewSQLDirectory(db).OrganizationByID(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type countingDirectory struct {
	Directory
	roleCalls     int
	hospitalCalls int
}

func (c *countingDirectory) RoleByID(ctx context.Context, id int64) (*Role, error) {
	c.roleCalls++
	return c.Directory.RoleByID(ctx, id)
}

func (c *countingDirectory) HospitalByID(ctx context.Context, id int64) (*Hospital, error) {
	c.hospitalCalls++
	return c.Directory.HospitalByID(ctx, id)
}

func TestCachedDirectory(t *testing.T) {
	ctx := context.Background()
	db, fx := setupTestDB(t)

	roleID, err := fx.Role(ctx, catalog.RoleNurse, "Nurse")
	require.NoError(t, err)
	hospitalID, err := fx.Hospital(ctx, "Zeta", nil)
	require.NoError(t, err)

	inner := &countingDirectory{Directory: NewSQLDirectory(db)}
	metrics := observability.NewMetrics(nil)
	cached := NewCachedDirectory(inner, 16, time.Minute, metrics)

	for i := 0; i < 3; i++ {
		r, err := cached.RoleByID(ctx, roleID)
		require.NoError(t, err)
		assert.Equal(t, catalog.RoleNurse, r.Code)
	}
	assert.Equal(t, 1, inner.roleCalls)

	// the id lookup also primes the code key
	r, err := cached.RoleByCode(ctx, catalog.RoleNurse)
	require.NoError(t, err)
	assert.Equal(t, roleID, r.ID)

	_, err = cached.HospitalByID(ctx, hospitalID)
	require.NoError(t, err)
	_, err = cached.HospitalByID(ctx, hospitalID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.hospitalCalls)

	_, err = cached.HospitalByID(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.HospitalByID(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, inner.hospitalCalls, "misses are not cached")

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("role")))

	cached.Purge()
	_, err = cached.RoleByID(ctx, roleID)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.roleCalls)
}

func TestSyncRoles(t *testing.T) {
	ctx := context.Background()
	db, fx := setupTestDB(t)

	_, err := fx.Role(ctx, catalog.RoleDoctor, "Physician")
	require.NoError(t, err)

	created, err := SyncRoles(ctx, db, catalog.Default())
	require.NoError(t, err)
	assert.Equal(t, 13, created)

	r, err := NewSQLDirectory(db).RoleByCode(ctx, catalog.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, "Doctor", r.DisplayName)

	created, err = SyncRoles(ctx, db, catalog.Default())
	require.NoError(t, err)
	assert.Zero(t, created)
}
