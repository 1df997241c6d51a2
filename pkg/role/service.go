package role

import (
	"context"
	"fmt"
	"log/slog"
)

// RoleService manages the per-role 2FA requirement options.
type RoleService struct {
	repo RequirementRepository
}

// NewRoleService creates a new role service
func NewRoleService(repo RequirementRepository) *RoleService {
	return &RoleService{repo: repo}
}

// Requires2FA reports whether the given role mandates 2FA.
func (s *RoleService) Requires2FA(ctx context.Context, role string) (bool, error) {
	required, err := s.repo.GetRequirement(ctx, role)
	if err != nil {
		slog.Error("Failed to get role requirement", "role", role, "error", err)
		return false, fmt.Errorf("failed to get role requirement: %w", err)
	}
	return required, nil
}

// SetRequirement flips the 2FA requirement for a role.
func (s *RoleService) SetRequirement(ctx context.Context, role string, required bool) error {
	if err := s.repo.SetRequirement(ctx, role, required); err != nil {
		slog.Error("Failed to set role requirement", "role", role, "required", required, "error", err)
		return fmt.Errorf("failed to set role requirement: %w", err)
	}
	return nil
}

// Requirements returns a point-in-time snapshot of all role requirements,
// suitable for building a per-request policy engine.
func (s *RoleService) Requirements(ctx context.Context) (map[string]bool, error) {
	snapshot, err := s.repo.GetRequirements(ctx)
	if err != nil {
		slog.Error("Failed to get role requirements", "error", err)
		return nil, fmt.Errorf("failed to get role requirements: %w", err)
	}
	return snapshot, nil
}
