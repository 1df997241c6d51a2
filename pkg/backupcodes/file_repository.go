package backupcodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileCodeRepository implements CodeRepository using file-based storage
type FileCodeRepository struct {
	dataDir string
	batches map[uuid.UUID]CodeBatch
	mutex   sync.RWMutex
}

// NewFileCodeRepository creates a new file-based code repository
func NewFileCodeRepository(dataDir string) (*FileCodeRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileCodeRepository{
		dataDir: dataDir,
		batches: make(map[uuid.UUID]CodeBatch),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileCodeRepository) GetCodes(ctx context.Context, userID uuid.UUID) (CodeBatch, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return copyBatch(r.batches[userID]), nil
}

func (r *FileCodeRepository) SaveCodes(ctx context.Context, userID uuid.UUID, batch CodeBatch) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, hadPrev := r.batches[userID]
	if batch.Version != prev.Version {
		return ErrVersionConflict
	}

	stored := copyBatch(batch)
	stored.Version++
	r.batches[userID] = stored

	if err := r.save(); err != nil {
		if hadPrev {
			r.batches[userID] = prev
		} else {
			delete(r.batches, userID)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileCodeRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, existed := r.batches[userID]
	if !existed {
		return nil
	}
	delete(r.batches, userID)

	if err := r.save(); err != nil {
		r.batches[userID] = prev
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads code data from file
func (r *FileCodeRepository) load() error {
	filePath := filepath.Join(r.dataDir, "backup_codes.json")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &r.batches); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return nil
}

// save writes code data to file atomically
func (r *FileCodeRepository) save() error {
	data, err := json.MarshalIndent(r.batches, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "backup_codes.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "backup_codes.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
