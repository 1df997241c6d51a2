package user

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryUserRepository implements UserRepository using in-memory storage
type InMemoryUserRepository struct {
	users map[uuid.UUID]User
	mutex sync.RWMutex
}

// NewInMemoryUserRepository creates a new in-memory user repository
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users: make(map[uuid.UUID]User),
	}
}

func (r *InMemoryUserRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *InMemoryUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	u, exists := r.users[id]
	if !exists {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *InMemoryUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID] = user
	return user, nil
}
