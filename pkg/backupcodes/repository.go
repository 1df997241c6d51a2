package backupcodes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// BatchSize is how many backup codes a user gets per generation.
const BatchSize = 10

// ErrVersionConflict is returned by SaveCodes when the stored batch changed
// since it was read. Callers re-read and retry.
var ErrVersionConflict = errors.New("backup code batch was modified concurrently")

// BackupCode is one stored recovery code. Only the bcrypt hash is persisted,
// the plaintext is shown to the user exactly once at generation time.
type BackupCode struct {
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"used"`
}

// CodeBatch is a user's current set of codes plus the version stamp used for
// optimistic concurrency. A user with no batch has Version 0.
type CodeBatch struct {
	Codes   []BackupCode `json:"codes"`
	Version int64        `json:"version"`
}

// CodeRepository stores each user's current batch of backup codes.
type CodeRepository interface {
	// GetCodes returns the user's stored batch. An unknown user yields an
	// empty batch at Version 0, not an error.
	GetCodes(ctx context.Context, userID uuid.UUID) (CodeBatch, error)
	// SaveCodes replaces the user's batch wholesale. The submitted Version
	// must match the stored one or ErrVersionConflict is returned; on
	// success the stored version increments.
	SaveCodes(ctx context.Context, userID uuid.UUID, batch CodeBatch) error
	// DeleteByUserID removes the user's batch entirely.
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}
