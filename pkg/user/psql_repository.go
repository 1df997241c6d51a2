package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db DBTX
}

// NewPostgresUserRepository creates a new PostgreSQL user repository
func NewPostgresUserRepository(db DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	query := `
		SELECT id, username, email, roles
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`

	var u User
	err := r.db.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.Email, &u.Roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user by username: %w", err)
	}

	return u, nil
}

func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	query := `
		SELECT id, username, email, roles
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.Email, &u.Roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	return u, nil
}

func (r *PostgresUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, username, email, roles)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Exec(ctx, query, user.ID, user.Username, user.Email, user.Roles)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}
