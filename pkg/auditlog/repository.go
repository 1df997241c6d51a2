package auditlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxEntriesPerUser caps how many login attempts are retained per user.
// Older entries are discarded when the cap is exceeded.
const MaxEntriesPerUser = 10

// Action identifies what kind of attempt an entry records.
type Action string

const (
	ActionLogin  Action = "login"
	ActionVerify Action = "verify"
	ActionSetup  Action = "setup"
)

// Entry is a single recorded authentication attempt.
type Entry struct {
	Time      time.Time `json:"time"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Action    Action    `json:"action"`
	Success   bool      `json:"success"`
}

// EntryRepository stores the capped per-user attempt history. Entries are
// ordered newest first.
type EntryRepository interface {
	// Record prepends an entry to the user's history and trims it to
	// MaxEntriesPerUser.
	Record(ctx context.Context, userID uuid.UUID, entry Entry) error
	// FindByUserID returns the user's history, newest first. An unknown user
	// yields an empty slice, not an error.
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	// DeleteByUserID removes a user's entire history.
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}
