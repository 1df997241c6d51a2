package role

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRequirementRepository implements RequirementRepository using file-based storage
type FileRequirementRepository struct {
	dataDir      string
	requirements map[string]bool
	mutex        sync.RWMutex
}

// NewFileRequirementRepository creates a new file-based requirement repository
func NewFileRequirementRepository(dataDir string) (*FileRequirementRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRequirementRepository{
		dataDir:      dataDir,
		requirements: make(map[string]bool),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileRequirementRepository) GetRequirement(ctx context.Context, role string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.requirements[role], nil
}

func (r *FileRequirementRepository) SetRequirement(ctx context.Context, role string, required bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, hadPrev := r.requirements[role]
	r.requirements[role] = required

	if err := r.save(); err != nil {
		if hadPrev {
			r.requirements[role] = prev
		} else {
			delete(r.requirements, role)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileRequirementRepository) GetRequirements(ctx context.Context) (map[string]bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshot := make(map[string]bool, len(r.requirements))
	for role, required := range r.requirements {
		snapshot[role] = required
	}
	return snapshot, nil
}

// load reads requirement data from file
func (r *FileRequirementRepository) load() error {
	filePath := filepath.Join(r.dataDir, "role_requirements.json")

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

	if err := json.Unmarshal(data, &r.requirements); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return nil
}

// save writes requirement data to file atomically
func (r *FileRequirementRepository) save() error {
	data, err := json.MarshalIndent(r.requirements, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "role_requirements.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "role_requirements.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
