// Package backupcodes manages single-use recovery codes for accounts with
// 2FA enabled. Codes are bcrypt-hashed at rest and revealed in plaintext
// only once, at generation time. Later reads get opaque placeholders.
package backupcodes

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/acemedia/loginblock/pkg/utils"
)

const maxSaveRetries = 3

// BackupCodesService generates and consumes recovery codes.
type BackupCodesService struct {
	repo CodeRepository
}

// NewBackupCodesService creates a new backup codes service
func NewBackupCodesService(repo CodeRepository) *BackupCodesService {
	return &BackupCodesService{repo: repo}
}

// GetOrGenerate returns the user's backup codes. When forceNew is set or the
// user has no batch yet, a fresh batch of BatchSize plaintext codes is
// generated, hashed, stored, and returned with fresh=true. Otherwise masked
// placeholders for the existing batch are returned with fresh=false.
func (s *BackupCodesService) GetOrGenerate(ctx context.Context, userID uuid.UUID, forceNew bool) ([]string, bool, error) {
	batch, err := s.repo.GetCodes(ctx, userID)
	if err != nil {
		slog.Error("Failed to get backup codes", "userID", userID, "error", err)
		return nil, false, fmt.Errorf("failed to get backup codes: %w", err)
	}

	if !forceNew && len(batch.Codes) > 0 {
		masked := make([]string, len(batch.Codes))
		for i, code := range batch.Codes {
			masked[i] = maskCode(code)
		}
		return masked, false, nil
	}

	plaintext := make([]string, 0, BatchSize)
	stored := make([]BackupCode, 0, BatchSize)
	now := time.Now().UTC()

	for i := 0; i < BatchSize; i++ {
		code, err := utils.GenerateBackupCode()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate backup code: %w", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("failed to hash backup code: %w", err)
		}

		plaintext = append(plaintext, code)
		stored = append(stored, BackupCode{
			Hash:      string(hash),
			CreatedAt: now,
		})
	}

	// Replacing the batch invalidates every old code at once
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		batch.Codes = stored
		err := s.repo.SaveCodes(ctx, userID, batch)
		if errors.Is(err, ErrVersionConflict) {
			slog.Warn("Backup code batch conflict, retrying", "userID", userID, "attempt", attempt+1)
			if batch, err = s.repo.GetCodes(ctx, userID); err != nil {
				return nil, false, fmt.Errorf("failed to get backup codes: %w", err)
			}
			continue
		}
		if err != nil {
			slog.Error("Failed to save backup codes", "userID", userID, "error", err)
			return nil, false, fmt.Errorf("failed to save backup codes: %w", err)
		}

		slog.Info("Generated new backup codes", "userID", userID, "count", BatchSize)
		return plaintext, true, nil
	}

	return nil, false, fmt.Errorf("failed to save backup codes: %w", ErrVersionConflict)
}

// Consume checks the submitted code against the user's unused codes and, on
// a match, marks that code used. The used flag lands via a version-checked
// save, so concurrent submissions of the same code succeed exactly once.
// Returns false when nothing matches.
func (s *BackupCodesService) Consume(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		batch, err := s.repo.GetCodes(ctx, userID)
		if err != nil {
			slog.Error("Failed to get backup codes", "userID", userID, "error", err)
			return false, fmt.Errorf("failed to get backup codes: %w", err)
		}

		matched := -1
		for i := range batch.Codes {
			if batch.Codes[i].Used {
				continue
			}
			if bcrypt.CompareHashAndPassword([]byte(batch.Codes[i].Hash), []byte(code)) != nil {
				continue
			}
			matched = i
			break
		}
		if matched < 0 {
			return false, nil
		}

		batch.Codes[matched].Used = true
		err = s.repo.SaveCodes(ctx, userID, batch)
		if errors.Is(err, ErrVersionConflict) {
			// A concurrent writer got there first; the re-read will see the
			// code already used if it was the same one
			slog.Warn("Backup code batch conflict, retrying", "userID", userID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			slog.Error("Failed to mark backup code used", "userID", userID, "error", err)
			return false, fmt.Errorf("failed to mark backup code used: %w", err)
		}

		slog.Info("Backup code consumed", "userID", userID, "remaining", countUnused(batch.Codes))
		return true, nil
	}

	return false, fmt.Errorf("failed to mark backup code used: %w", ErrVersionConflict)
}

// RemainingCount returns how many of the user's codes are still unused.
func (s *BackupCodesService) RemainingCount(ctx context.Context, userID uuid.UUID) (int, error) {
	batch, err := s.repo.GetCodes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get backup codes: %w", err)
	}
	return countUnused(batch.Codes), nil
}

// Purge removes the user's batch entirely, e.g. when 2FA is disabled.
func (s *BackupCodesService) Purge(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		slog.Error("Failed to purge backup codes", "userID", userID, "error", err)
		return fmt.Errorf("failed to purge backup codes: %w", err)
	}
	return nil
}

// maskCode derives a stable placeholder from the stored hash so the UI can
// show that codes exist without revealing anything about them.
func maskCode(code BackupCode) string {
	sum := md5.Sum([]byte(code.Hash))
	return fmt.Sprintf("BACKUP-%x", sum[:2])
}

func countUnused(codes []BackupCode) int {
	n := 0
	for _, c := range codes {
		if !c.Used {
			n++
		}
	}
	return n
}
