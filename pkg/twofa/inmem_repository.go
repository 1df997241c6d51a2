package twofa

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemorySettingsRepository implements SettingsRepository using in-memory storage
type InMemorySettingsRepository struct {
	settings map[uuid.UUID]Settings
	mutex    sync.RWMutex
}

// NewInMemorySettingsRepository creates a new in-memory settings repository
func NewInMemorySettingsRepository() *InMemorySettingsRepository {
	return &InMemorySettingsRepository{
		settings: make(map[uuid.UUID]Settings),
	}
}

func (r *InMemorySettingsRepository) Get(ctx context.Context, userID uuid.UUID) (Settings, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, exists := r.settings[userID]
	if !exists {
		return Settings{}, ErrSettingsNotFound
	}
	return stored, nil
}

func (r *InMemorySettingsRepository) Upsert(ctx context.Context, settings Settings) (Settings, error) {
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
	return settings, nil
}

func (r *InMemorySettingsRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.settings, userID)
	return nil
}
