//go:build integration

package assignments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/codes"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/storage/storagetest"
)

// startPostgres runs a throwaway PostgreSQL container and returns its URL
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("grants_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestManager_PostgresConcurrency(t *testing.T) {
	ctx := context.Background()
	db := storagetest.OpenPostgres(t, startPostgres(t), directory.MigrationSet(), MigrationSet())
	fx := directory.NewFixtures(db)

	userID, err := fx.User(ctx, "Concurrent User", "concurrent@example.com", "")
	require.NoError(t, err)
	roleID, err := fx.Role(ctx, catalog.RoleNurse, "Nurse")
	require.NoError(t, err)
	hospitalID, err := fx.Hospital(ctx, "Alpha General", nil)
	require.NoError(t, err)

	store := NewSQLStore(db)
	mgr := NewManager(store, directory.NewSQLDirectory(db), codes.NewGenerator())

	t.Run("duplicate create under contention", func(t *testing.T) {
		const writers = 8
		var (
			wg      sync.WaitGroup
			results = make([]error, writers)
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = mgr.Create(ctx, CreateRequest{
					UserID: userID, RoleID: roleID, Scope: HospitalScope(hospitalID),
				})
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range results {
			if err == nil {
				created++
				continue
			}
			assert.True(t, errors.Is(err, ErrDuplicateGrant), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, created)
	})

	t.Run("verification consumes the code once", func(t *testing.T) {
		existing, err := store.FindActiveByUserScopeRole(ctx, userID, roleID, HospitalScope(hospitalID))
		require.NoError(t, err)

		confirmed, err := mgr.Confirm(ctx, existing.ID, existing.ConfirmationCode)
		require.NoError(t, err)

		const verifiers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < verifiers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := mgr.Verify(ctx, confirmed.AssignmentCode, confirmed.ConfirmationCode)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ErrVerificationFailed)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
	})
}
