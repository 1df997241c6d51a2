package twofa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileSettingsRepository implements SettingsRepository using file-based storage
type FileSettingsRepository struct {
	dataDir  string
	settings map[uuid.UUID]Settings
	mutex    sync.RWMutex
}

// NewFileSettingsRepository creates a new file-based settings repository
func NewFileSettingsRepository(dataDir string) (*FileSettingsRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileSettingsRepository{
		dataDir:  dataDir,
		settings: make(map[uuid.UUID]Settings),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileSettingsRepository) Get(ctx context.Context, userID uuid.UUID) (Settings, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, exists := r.settings[userID]
	if !exists {
		return Settings{}, ErrSettingsNotFound
	}
	return stored, nil
}

func (r *FileSettingsRepository) Upsert(ctx context.Context, settings Settings) (Settings, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.settings[settings.UserID]
	if exists && stored.Version != settings.Version {
		return Settings{}, ErrVersionConflict
	}
	if !exists && settings.Version != 0 {
		return Settings{}, ErrVersionConflict
	}

	settings.Version++
	r.settings[settings.UserID] = settings

	if err := r.save(); err != nil {
		if exists {
			r.settings[settings.UserID] = stored
		} else {
			delete(r.settings, settings.UserID)
		}
		return Settings{}, fmt.Errorf("failed to save: %w", err)
	}
	return settings, nil
}

func (r *FileSettingsRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, existed := r.settings[userID]
	if !existed {
		return nil
	}
	delete(r.settings, userID)

	if err := r.save(); err != nil {
		r.settings[userID] = prev
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads settings data from file
func (r *FileSettingsRepository) load() error {
	filePath := filepath.Join(r.dataDir, "twofa_settings.json")

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

	if err := json.Unmarshal(data, &r.settings); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return nil
}

// save writes settings data to file atomically
func (r *FileSettingsRepository) save() error {
	data, err := json.MarshalIndent(r.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "twofa_settings.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "twofa_settings.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
