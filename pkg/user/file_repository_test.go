package user

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) (*FileUserRepository, string) {
	tempDir := filepath.Join(os.TempDir(), "user-test-"+uuid.New().String())
	err := os.MkdirAll(tempDir, 0755)
	require.NoError(t, err)

	repo, err := NewFileUserRepository(tempDir)
	require.NoError(t, err)

	t.Cleanup(func() {
		os.RemoveAll(tempDir)
	})

	return repo, tempDir
}

func TestFileUserRepository_CreateAndGet(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateUser(ctx, User{
		Username: "alice",
		Email:    "alice@example.com",
		Roles:    []string{"editor"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	t.Run("ByUsername", func(t *testing.T) {
		u, err := repo.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, created.ID, u.ID)
		assert.Equal(t, []string{"editor"}, u.Roles)
	})

	t.Run("ByUsernameCaseInsensitive", func(t *testing.T) {
		u, err := repo.GetUserByUsername(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, created.ID, u.ID)
	})

	t.Run("ByID", func(t *testing.T) {
		u, err := repo.GetUserByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)

		_, err = repo.GetUserByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestFileUserRepository_Persistence(t *testing.T) {
	repo, tempDir := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateUser(ctx, User{Username: "bob", Email: "bob@example.com", Roles: []string{"editor", "author"}})
	require.NoError(t, err)

	// A fresh repository over the same directory sees the same data
	reloaded, err := NewFileUserRepository(tempDir)
	require.NoError(t, err)

	u, err := reloaded.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, []string{"editor", "author"}, u.Roles)
}
