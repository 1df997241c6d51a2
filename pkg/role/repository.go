package role

import "context"

// RequirementRepository stores the global per-role 2FA requirement flags,
// the equivalent of the host's `acemedia_2fa_enabled_{role}` options.
type RequirementRepository interface {
	GetRequirement(ctx context.Context, role string) (bool, error)
	SetRequirement(ctx context.Context, role string, required bool) error
	GetRequirements(ctx context.Context) (map[string]bool, error)
}
