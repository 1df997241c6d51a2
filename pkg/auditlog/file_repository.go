package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileEntryRepository implements EntryRepository using file-based storage
type FileEntryRepository struct {
	dataDir string
	entries map[uuid.UUID][]Entry
	mutex   sync.RWMutex
}

// NewFileEntryRepository creates a new file-based entry repository
func NewFileEntryRepository(dataDir string) (*FileEntryRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileEntryRepository{
		dataDir: dataDir,
		entries: make(map[uuid.UUID][]Entry),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileEntryRepository) Record(ctx context.Context, userID uuid.UUID, entry Entry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev := r.entries[userID]
	r.entries[userID] = prepend(prev, entry)

	if err := r.save(); err != nil {
		r.entries[userID] = prev
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileEntryRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	history := r.entries[userID]
	out := make([]Entry, len(history))
	copy(out, history)
	return out, nil
}

func (r *FileEntryRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, existed := r.entries[userID]
	if !existed {
		return nil
	}
	delete(r.entries, userID)

	if err := r.save(); err != nil {
		r.entries[userID] = prev
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads entry data from file
func (r *FileEntryRepository) load() error {
	filePath := filepath.Join(r.dataDir, "audit_entries.json")

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

	if err := json.Unmarshal(data, &r.entries); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return nil
}

// save writes entry data to file atomically
func (r *FileEntryRepository) save() error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "audit_entries.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "audit_entries.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
