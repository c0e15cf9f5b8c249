package users

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(id, email string, created time.Time) *models.User {
	return &models.User{
		ID:           id,
		Name:         "user " + id,
		Email:        email,
		PasswordHash: "$2a$10$hash-" + id,
		Role:         models.RoleUser,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func assertSameUser(t *testing.T, want, got *models.User) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.PasswordHash, got.PasswordHash)
	assert.Equal(t, want.Role, got.Role)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %v got %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at: want %v got %v", want.UpdatedAt, got.UpdatedAt)
}

// runRepositoryContract exercises the behaviour every backend must share.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	alice := newTestUser("0b6c3f0e-0000-4000-8000-000000000001", "alice@example.com", base)
	bob := newTestUser("0b6c3f0e-0000-4000-8000-000000000002", "bob@example.com", base.Add(time.Minute))

	t.Run("missing", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "nope")
		assert.ErrorIs(t, err, common.ErrorNotFound)
		_, err = repo.FindByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, common.ErrorNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "nope"), common.ErrorNotFound)
	})

	t.Run("save and find", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, alice))
		require.NoError(t, repo.Save(ctx, bob))

		got, err := repo.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		assertSameUser(t, alice, got)

		got, err = repo.FindByEmail(ctx, bob.Email)
		require.NoError(t, err)
		assertSameUser(t, bob, got)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		dup := newTestUser("0b6c3f0e-0000-4000-8000-000000000003", alice.Email, base.Add(2*time.Minute))
		assert.ErrorIs(t, repo.Save(ctx, dup), common.ErrorAlreadyExists)

		_, err := repo.FindByID(ctx, dup.ID)
		assert.ErrorIs(t, err, common.ErrorNotFound)

		list, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("update keeps identity", func(t *testing.T) {
		upd := *alice
		upd.Name = "Alice Renamed"
		upd.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, repo.Save(ctx, &upd))

		got, err := repo.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		assertSameUser(t, &upd, got)
	})

	t.Run("email change moves index", func(t *testing.T) {
		upd := *bob
		upd.Email = "robert@example.com"
		require.NoError(t, repo.Save(ctx, &upd))

		_, err := repo.FindByEmail(ctx, bob.Email)
		assert.ErrorIs(t, err, common.ErrorNotFound)

		got, err := repo.FindByEmail(ctx, upd.Email)
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)

		// the released address is free again
		carol := newTestUser("0b6c3f0e-0000-4000-8000-000000000004", bob.Email, base.Add(3*time.Minute))
		require.NoError(t, repo.Save(ctx, carol))
	})

	t.Run("taking another user's email rejected", func(t *testing.T) {
		upd := *alice
		upd.Email = "robert@example.com"
		assert.ErrorIs(t, repo.Save(ctx, &upd), common.ErrorAlreadyExists)

		got, err := repo.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, alice.Email, got.Email)
	})

	t.Run("list ordered by creation", func(t *testing.T) {
		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, alice.ID, list[0].ID)
		assert.Equal(t, bob.ID, list[1].ID)
		assert.Equal(t, "0b6c3f0e-0000-4000-8000-000000000004", list[2].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, alice.ID))

		_, err := repo.FindByID(ctx, alice.ID)
		assert.ErrorIs(t, err, common.ErrorNotFound)
		_, err = repo.FindByEmail(ctx, alice.Email)
		assert.ErrorIs(t, err, common.ErrorNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, alice.ID), common.ErrorNotFound)

		list, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}
