package backupcodes

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrGenerateFreshBatch(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	codes, fresh, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)
	assert.True(t, fresh)
	require.Len(t, codes, BatchSize)

	// 8 uppercase hex characters each, no duplicates
	codeFormat := regexp.MustCompile(`^[0-9A-F]{8}$`)
	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Regexp(t, codeFormat, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestGetOrGenerateMasksExistingBatch(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	plaintext, fresh, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)
	require.True(t, fresh)

	// Second read returns placeholders, never the plaintext again
	masked, fresh, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)
	assert.False(t, fresh)
	require.Len(t, masked, BatchSize)

	for i, m := range masked {
		assert.True(t, strings.HasPrefix(m, "BACKUP-"), "placeholder %q", m)
		assert.NotContains(t, plaintext, m)
		assert.NotEqual(t, plaintext[i], m)
	}
}

func TestGetOrGenerateForceNewInvalidatesOldCodes(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	oldCodes, _, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)

	newCodes, fresh, err := service.GetOrGenerate(ctx, userID, true)
	require.NoError(t, err)
	assert.True(t, fresh)
	require.Len(t, newCodes, BatchSize)

	// Old codes no longer verify
	ok, err := service.Consume(ctx, userID, oldCodes[0])
	require.NoError(t, err)
	assert.False(t, ok)

	// New codes do
	ok, err = service.Consume(ctx, userID, newCodes[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsumeSingleUse(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	codes, _, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)

	ok, err := service.Consume(ctx, userID, codes[3])
	require.NoError(t, err)
	assert.True(t, ok)

	// Same code again fails
	ok, err = service.Consume(ctx, userID, codes[3])
	require.NoError(t, err)
	assert.False(t, ok)

	// Other codes still work
	ok, err = service.Consume(ctx, userID, codes[7])
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := service.RemainingCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, BatchSize-2, remaining)
}

func TestConsumeUnknownCode(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	_, _, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)

	ok, err := service.Consume(ctx, userID, "DEADBEEF")
	require.NoError(t, err)
	assert.False(t, ok)

	// User with no batch at all
	ok, err = service.Consume(ctx, uuid.New(), "DEADBEEF")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeConcurrentlyIsSingleUse(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	codes, _, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)

	// Two submissions of the same code racing each other: exactly one wins
	const racers = 2
	results := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := service.Consume(ctx, userID, codes[0])
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	remaining, err := service.RemainingCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, BatchSize-1, remaining)
}

func TestSaveCodesVersionConflict(t *testing.T) {
	repo := NewInMemoryCodeRepository()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.SaveCodes(ctx, userID, CodeBatch{Codes: []BackupCode{{Hash: "a"}}}))

	stored, err := repo.GetCodes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	// A writer holding the old version loses
	stale := CodeBatch{Codes: []BackupCode{{Hash: "b"}}, Version: 0}
	assert.ErrorIs(t, repo.SaveCodes(ctx, userID, stale), ErrVersionConflict)

	// The current version wins and increments
	stored.Codes[0].Used = true
	require.NoError(t, repo.SaveCodes(ctx, userID, stored))

	stored, err = repo.GetCodes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.True(t, stored.Codes[0].Used)
}

func TestPurge(t *testing.T) {
	service := NewBackupCodesService(NewInMemoryCodeRepository())
	ctx := context.Background()
	userID := uuid.New()

	codes, _, err := service.GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)

	require.NoError(t, service.Purge(ctx, userID))

	ok, err := service.Consume(ctx, userID, codes[0])
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := service.RemainingCount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestFileRepositoryPersistence(t *testing.T) {
	dataDir := filepath.Join(os.TempDir(), "backupcodes_test_"+uuid.New().String())
	t.Cleanup(func() { os.RemoveAll(dataDir) })

	ctx := context.Background()
	userID := uuid.New()

	repo, err := NewFileCodeRepository(dataDir)
	require.NoError(t, err)

	codes, _, err := NewBackupCodesService(repo).GetOrGenerate(ctx, userID, false)
	require.NoError(t, err)

	// Codes survive a repository reload and remain single-use
	reloaded, err := NewFileCodeRepository(dataDir)
	require.NoError(t, err)
	service := NewBackupCodesService(reloaded)

	ok, err := service.Consume(ctx, userID, codes[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.Consume(ctx, userID, codes[0])
	require.NoError(t, err)
	assert.False(t, ok)
}
