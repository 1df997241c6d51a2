package auditlog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryEntryRepository implements EntryRepository using in-memory storage
type InMemoryEntryRepository struct {
	entries map[uuid.UUID][]Entry
	mutex   sync.RWMutex
}

// NewInMemoryEntryRepository creates a new in-memory entry repository
func NewInMemoryEntryRepository() *InMemoryEntryRepository {
	return &InMemoryEntryRepository{
		entries: make(map[uuid.UUID][]Entry),
	}
}

func (r *InMemoryEntryRepository) Record(ctx context.Context, userID uuid.UUID, entry Entry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries[userID] = prepend(r.entries[userID], entry)
	return nil
}

func (r *InMemoryEntryRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	history := r.entries[userID]
	out := make([]Entry, len(history))
	copy(out, history)
	return out, nil
}

func (r *InMemoryEntryRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.entries, userID)
	return nil
}

// prepend puts entry at the head of history and trims to MaxEntriesPerUser.
func prepend(history []Entry, entry Entry) []Entry {
	updated := make([]Entry, 0, len(history)+1)
	updated = append(updated, entry)
	updated = append(updated, history...)
	if len(updated) > MaxEntriesPerUser {
		updated = updated[:MaxEntriesPerUser]
	}
	return updated
}
