package twofa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/acemedia/loginblock/pkg/policy"
)

var (
	// ErrSettingsNotFound means the user has no stored 2FA settings yet.
	ErrSettingsNotFound = errors.New("2fa settings not found")
	// ErrVersionConflict means another writer updated the settings between
	// our read and our write. Callers re-read and retry.
	ErrVersionConflict = errors.New("2fa settings version conflict")
)

// Settings is a user's stored 2FA state.
type Settings struct {
	UserID            uuid.UUID     `json:"user_id"`
	Enabled           bool          `json:"enabled"`
	Method            policy.Method `json:"method,omitempty"`
	Secret            string        `json:"secret,omitempty"`
	EmailCode         string        `json:"email_code,omitempty"`
	EmailCodeIssuedAt time.Time     `json:"email_code_issued_at,omitempty"`
	SetupComplete     bool          `json:"setup_complete"`
	// Version guards concurrent writes. Zero means "not stored yet".
	Version int64 `json:"version"`
}

// Enrollment projects the settings into what the policy engine needs.
func (s Settings) Enrollment() policy.Enrollment {
	return policy.Enrollment{
		Enabled:       s.Enabled,
		Method:        s.Method,
		SetupComplete: s.SetupComplete,
	}
}

// SettingsRepository stores per-user 2FA settings with optimistic
// concurrency. Upsert only succeeds when the submitted Version matches the
// stored one (or both are zero for a new record); on success the stored
// Version is incremented and the updated record returned.
type SettingsRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (Settings, error)
	Upsert(ctx context.Context, settings Settings) (Settings, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}
