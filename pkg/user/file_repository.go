package user

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FileUserRepository implements UserRepository using file-based storage
type FileUserRepository struct {
	dataDir string
	users   map[uuid.UUID]User
	mutex   sync.RWMutex
}

// NewFileUserRepository creates a new file-based user repository
func NewFileUserRepository(dataDir string) (*FileUserRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileUserRepository{
		dataDir: dataDir,
		users:   make(map[uuid.UUID]User),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileUserRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *FileUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	u, exists := r.users[id]
	if !exists {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *FileUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID] = user

	if err := r.save(); err != nil {
		delete(r.users, user.ID)
		return User{}, fmt.Errorf("failed to save: %w", err)
	}

	return user, nil
}

// load reads user data from file
func (r *FileUserRepository) load() error {
	filePath := filepath.Join(r.dataDir, "users.json")

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

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.users = make(map[uuid.UUID]User)
	for _, u := range users {
		r.users[u.ID] = u
	}

	return nil
}

// save writes user data to file atomically
func (r *FileUserRepository) save() error {
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "users.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "users.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
