package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/acemedia/loginblock/pkg/policy"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresSettingsRepository implements SettingsRepository using PostgreSQL
type PostgresSettingsRepository struct {
	db DBTX
}

// NewPostgresSettingsRepository creates a new PostgreSQL settings repository
func NewPostgresSettingsRepository(db DBTX) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) Get(ctx context.Context, userID uuid.UUID) (Settings, error) {
	query := `
		SELECT user_id, enabled, method, secret, email_code, email_code_issued_at, setup_complete, version
		FROM twofa_settings
		WHERE user_id = $1
	`

	var s Settings
	var method string
	var issuedAt *time.Time
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.Enabled, &method, &s.Secret, &s.EmailCode, &issuedAt, &s.SetupComplete, &s.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrSettingsNotFound
		}
		return Settings{}, fmt.Errorf("failed to get 2fa settings: %w", err)
	}

	s.Method = policy.Method(method)
	if issuedAt != nil {
		s.EmailCodeIssuedAt = *issuedAt
	}
	return s, nil
}

func (r *PostgresSettingsRepository) Upsert(ctx context.Context, settings Settings) (Settings, error) {
	// The version check in the WHERE clause is the optimistic lock. An insert
	// only happens when the caller saw no record (version 0).
	if settings.Version == 0 {
		query := `
			INSERT INTO twofa_settings (user_id, enabled, method, secret, email_code, email_code_issued_at, setup_complete, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			ON CONFLICT (user_id) DO NOTHING
		`
		tag, err := r.db.Exec(ctx, query,
			settings.UserID, settings.Enabled, string(settings.Method), settings.Secret,
			settings.EmailCode, nullableTime(settings.EmailCodeIssuedAt), settings.SetupComplete,
		)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to insert 2fa settings: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return Settings{}, ErrVersionConflict
		}
		settings.Version = 1
		return settings, nil
	}

	query := `
		UPDATE twofa_settings
		SET enabled = $2, method = $3, secret = $4, email_code = $5,
		    email_code_issued_at = $6, setup_complete = $7, version = version + 1
		WHERE user_id = $1 AND version = $8
	`
	tag, err := r.db.Exec(ctx, query,
		settings.UserID, settings.Enabled, string(settings.Method), settings.Secret,
		settings.EmailCode, nullableTime(settings.EmailCodeIssuedAt), settings.SetupComplete,
		settings.Version,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to update 2fa settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Settings{}, ErrVersionConflict
	}

	settings.Version++
	return settings, nil
}

func (r *PostgresSettingsRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM twofa_settings WHERE user_id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete 2fa settings: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
