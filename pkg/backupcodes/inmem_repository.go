package backupcodes

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryCodeRepository implements CodeRepository using in-memory storage
type InMemoryCodeRepository struct {
	batches map[uuid.UUID]CodeBatch
	mutex   sync.RWMutex
}

// NewInMemoryCodeRepository creates a new in-memory code repository
func NewInMemoryCodeRepository() *InMemoryCodeRepository {
	return &InMemoryCodeRepository{
		batches: make(map[uuid.UUID]CodeBatch),
	}
}

func (r *InMemoryCodeRepository) GetCodes(ctx context.Context, userID uuid.UUID) (CodeBatch, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return copyBatch(r.batches[userID]), nil
}

func (r *InMemoryCodeRepository) SaveCodes(ctx context.Context, userID uuid.UUID, batch CodeBatch) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if batch.Version != r.batches[userID].Version {
		return ErrVersionConflict
	}

	stored := copyBatch(batch)
	stored.Version++
	r.batches[userID] = stored
	return nil
}

func (r *InMemoryCodeRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.batches, userID)
	return nil
}

func copyBatch(batch CodeBatch) CodeBatch {
	codes := make([]BackupCode, len(batch.Codes))
	copy(codes, batch.Codes)
	return CodeBatch{Codes: codes, Version: batch.Version}
}
