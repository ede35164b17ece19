package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/Dan9191/account-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_Uniqueness(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	alice := &models.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, repo.CreateUser(ctx, alice))
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, models.DefaultImageFile, alice.ImageFile)

	err := repo.CreateUser(ctx, &models.User{Username: "other", Email: "alice@example.com"})
	var v *models.UniquenessViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, models.FieldEmail, v.Field)

	err = repo.CreateUser(ctx, &models.User{Username: "alice", Email: "new@example.com"})
	require.ErrorAs(t, err, &v)
	assert.Equal(t, models.FieldUsername, v.Field)
}

func TestMemoryRepository_SaveKeepsOwnValues(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	alice := &models.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, repo.CreateUser(ctx, alice))

	alice.ImageFile = "x.png"
	require.NoError(t, repo.SaveUser(ctx, alice))

	assert.ErrorIs(t, repo.SaveUser(ctx, &models.User{ID: 99}), models.ErrNotFound)
}

func TestMemoryRepository_SaveLeavesPasswordAlone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	alice := &models.User{Username: "alice", Email: "alice@example.com", PasswordHash: "old"}
	require.NoError(t, repo.CreateUser(ctx, alice))
	stale := *alice

	require.NoError(t, repo.UpdatePassword(ctx, alice.ID, "new"))
	stale.Username = "alice2"
	require.NoError(t, repo.SaveUser(ctx, &stale))

	got, err := repo.FindUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)
	assert.Equal(t, "new", got.PasswordHash)

	assert.ErrorIs(t, repo.UpdatePassword(ctx, 99, "x"), models.ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &models.User{Username: "alice", Email: "alice@example.com"}))

	got, err := repo.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	got.Username = "mallory"

	again, err := repo.FindUserByID(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)

	_, err = repo.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryRepository_ConcurrentCreateSameEmail(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := &models.User{Username: string(rune('a' + i)), Email: "race@example.com"}
			if repo.CreateUser(ctx, u) == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}
