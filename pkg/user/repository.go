package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User mirrors the host identity store's view of a user. The 2FA core
// references users but never owns them.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Roles    []string  `json:"roles"`
}

// UserRepository defines lookups against the host identity store.
type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
}
