// Package auditlog keeps a short, capped history of authentication attempts
// per user, newest first. It is a debugging aid for admins, not a full audit
// trail.
package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditService records and retrieves per-user attempt history.
type AuditService struct {
	repo EntryRepository
}

// NewAuditService creates a new audit service
func NewAuditService(repo EntryRepository) *AuditService {
	return &AuditService{repo: repo}
}

// RecordAttempt stores one authentication attempt. Failures to persist are
// logged but also returned so callers can decide whether to surface them.
func (s *AuditService) RecordAttempt(ctx context.Context, userID uuid.UUID, ip, userAgent string, action Action, success bool) error {
	entry := Entry{
		Time:      time.Now().UTC(),
		IP:        ip,
		UserAgent: userAgent,
		Action:    action,
		Success:   success,
	}
	if err := s.repo.Record(ctx, userID, entry); err != nil {
		slog.Error("Failed to record audit entry", "userID", userID, "action", action, "error", err)
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// History returns the user's recorded attempts, newest first.
func (s *AuditService) History(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	entries, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		slog.Error("Failed to get audit entries", "userID", userID, "error", err)
		return nil, fmt.Errorf("failed to get audit entries: %w", err)
	}
	return entries, nil
}

// Clear wipes the user's attempt history.
func (s *AuditService) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		slog.Error("Failed to clear audit entries", "userID", userID, "error", err)
		return fmt.Errorf("failed to clear audit entries: %w", err)
	}
	return nil
}
