package role

import (
	"context"
	"sync"
)

// InMemoryRequirementRepository implements RequirementRepository using in-memory storage
type InMemoryRequirementRepository struct {
	requirements map[string]bool
	mutex        sync.RWMutex
}

// NewInMemoryRequirementRepository creates a new in-memory requirement repository
func NewInMemoryRequirementRepository() *InMemoryRequirementRepository {
	return &InMemoryRequirementRepository{
		requirements: make(map[string]bool),
	}
}

func (r *InMemoryRequirementRepository) GetRequirement(ctx context.Context, role string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.requirements[role], nil
}

func (r *InMemoryRequirementRepository) SetRequirement(ctx context.Context, role string, required bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.requirements[role] = required
	return nil
}

func (r *InMemoryRequirementRepository) GetRequirements(ctx context.Context) (map[string]bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshot := make(map[string]bool, len(r.requirements))
	for role, required := range r.requirements {
		snapshot[role] = required
	}
	return snapshot, nil
}
