package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// UserService wraps the host identity store lookups used by the 2FA core.
type UserService struct {
	repo UserRepository
}

// NewUserService creates a new user service
func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// FindByUsername looks up a user by login name.
func (s *UserService) FindByUsername(ctx context.Context, username string) (User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if err == ErrUserNotFound {
			return User{}, ErrUserNotFound
		}
		slog.Error("Failed to find user by username", "username", username, "error", err)
		return User{}, fmt.Errorf("failed to find user by username: %w", err)
	}
	return u, nil
}

// FindByID looks up a user by ID.
func (s *UserService) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if err == ErrUserNotFound {
			return User{}, ErrUserNotFound
		}
		slog.Error("Failed to find user by id", "id", id, "error", err)
		return User{}, fmt.Errorf("failed to find user by id: %w", err)
	}
	return u, nil
}
