package loginflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/acemedia/loginblock/pkg/policy"
	"github.com/acemedia/loginblock/pkg/twofa"
	"github.com/acemedia/loginblock/pkg/user"
)

// Hooks is the surface the host application calls into at its own pivotal
// moments: granting credentials, serving an admin page, saving a profile.
type Hooks interface {
	// BeforeCredentialGrant runs after the password check and decides whether
	// credentials may be granted, a second factor is needed, or setup is owed.
	BeforeCredentialGrant(ctx context.Context, request GrantRequest) GrantResult

	// OnAdminRequest decides whether an admin page request should be
	// redirected into 2FA setup.
	OnAdminRequest(ctx context.Context, request AdminRequest) AdminDecision

	// OnProfileSave applies the 2FA portion of a profile save.
	OnProfileSave(ctx context.Context, userID uuid.UUID, params twofa.SetupParams) (twofa.Settings, error)
}

// AdminRequest describes an authenticated request to a host admin page.
type AdminRequest struct {
	User user.User
	Path string
}

// AdminDecision says whether to serve the page or redirect.
type AdminDecision struct {
	Redirect bool
	Location string
}

// GateConfig controls the setup enforcement gate.
type GateConfig struct {
	// SetupPath is where users owing 2FA setup are sent.
	SetupPath string

	// AllowedPaths are admin paths reachable while setup is outstanding,
	// so the user can actually complete setup or leave.
	AllowedPaths []string
}

// DefaultGateConfig returns the standard gate configuration
func DefaultGateConfig() GateConfig {
	return GateConfig{
		SetupPath: "/admin/profile/two-factor",
		AllowedPaths: []string{
			"/admin/profile/two-factor",
			"/admin/profile",
			"/logout",
		},
	}
}

// FlowService implements Hooks on top of the grant flow executor.
type FlowService struct {
	executor     *FlowExecutor
	twoFaService *twofa.TwoFaService
	gate         GateConfig
}

// NewFlowService creates a flow service with the standard step registry.
func NewFlowService(services *ServiceDependencies, gate GateConfig) *FlowService {
	return &FlowService{
		executor:     NewFlowExecutor(DefaultRegistry(), services),
		twoFaService: services.TwoFaService,
		gate:         gate,
	}
}

func (s *FlowService) BeforeCredentialGrant(ctx context.Context, request GrantRequest) GrantResult {
	result := s.executor.Execute(ctx, request)
	if result.ErrorResponse != nil {
		slog.Info("Credential grant blocked",
			"username", request.Username,
			"twoFARequired", result.TwoFARequired,
			"error", result.ErrorResponse)
	}
	return result
}

func (s *FlowService) OnAdminRequest(ctx context.Context, request AdminRequest) AdminDecision {
	state, err := s.twoFaService.EvaluateUser(ctx, request.User)
	if err != nil {
		// Never lock an admin out because the policy store hiccuped
		slog.Error("Failed to evaluate 2FA state for admin request", "userID", request.User.ID, "error", err)
		return AdminDecision{}
	}

	if state != policy.StateSetupRequired {
		return AdminDecision{}
	}

	path := normalizePath(request.Path)
	if slices.Contains(s.gate.AllowedPaths, path) {
		return AdminDecision{}
	}

	return AdminDecision{Redirect: true, Location: s.gate.SetupPath}
}

func (s *FlowService) OnProfileSave(ctx context.Context, userID uuid.UUID, params twofa.SetupParams) (twofa.Settings, error) {
	settings, err := s.twoFaService.HandleSetup(ctx, userID, params)
	if err != nil {
		return twofa.Settings{}, err
	}

	// The provisioning image is only meaningful while an authenticator app
	// is the active method
	if !params.Enabled || params.Method != policy.MethodAuthApp {
		if err := s.twoFaService.RemoveQRCode(userID); err != nil {
			slog.Error("Failed to remove qr code", "userID", userID, "error", err)
		}
	}

	return settings, nil
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
