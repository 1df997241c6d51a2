package loginflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acemedia/loginblock/pkg/auditlog"
	"github.com/acemedia/loginblock/pkg/backupcodes"
	"github.com/acemedia/loginblock/pkg/config"
	apperrors "github.com/acemedia/loginblock/pkg/errors"
	"github.com/acemedia/loginblock/pkg/notice"
	"github.com/acemedia/loginblock/pkg/notification"
	"github.com/acemedia/loginblock/pkg/policy"
	"github.com/acemedia/loginblock/pkg/ratelimit"
	"github.com/acemedia/loginblock/pkg/role"
	"github.com/acemedia/loginblock/pkg/tokens"
	"github.com/acemedia/loginblock/pkg/totp"
	"github.com/acemedia/loginblock/pkg/twofa"
	"github.com/acemedia/loginblock/pkg/user"
)

type flowEnv struct {
	flow         *FlowService
	twoFaService *twofa.TwoFaService
	roleService  *role.RoleService
	tokenService *tokens.TokenService
	user         user.User
}

func setupFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	ctx := context.Background()

	userRepo := user.NewInMemoryUserRepository()
	u, err := userRepo.CreateUser(ctx, user.User{
		Username: "bob",
		Email:    "bob@example.com",
		Roles:    []string{"administrator"},
	})
	require.NoError(t, err)

	roleRepo := role.NewInMemoryRequirementRepository()
	require.NoError(t, roleRepo.SetRequirement(ctx, "administrator", true))
	roleService := role.NewRoleService(roleRepo)

	manager := notification.NewNotificationManager()
	manager.RegisterNotifier(notification.EmailSystem, &notification.MockNotifier{})
	require.NoError(t, notice.RegisterTemplates(manager))

	cfg := config.DefaultTwoFaConfig()
	cfg.QRCodeDir = t.TempDir()

	userService := user.NewUserService(userRepo)
	tokenService := tokens.NewTokenService("test-secret-0123456789abcdef0123", "loginblock")

	twoFaService := twofa.NewTwoFaService(
		twofa.NewInMemorySettingsRepository(),
		userService,
		roleService,
		backupcodes.NewBackupCodesService(backupcodes.NewInMemoryCodeRepository()),
		auditlog.NewAuditService(auditlog.NewInMemoryEntryRepository()),
		ratelimit.NewAttemptLimiter(10, time.Hour, 0),
		manager,
		tokenService,
		cfg,
	)

	flow := NewFlowService(&ServiceDependencies{
		TwoFaService: twoFaService,
		UserService:  userService,
		RoleService:  roleService,
	}, DefaultGateConfig())

	return &flowEnv{
		flow:         flow,
		twoFaService: twoFaService,
		roleService:  roleService,
		tokenService: tokenService,
		user:         u,
	}
}

func (e *flowEnv) enroll(t *testing.T, method policy.Method) {
	t.Helper()
	_, err := e.twoFaService.HandleSetup(context.Background(), e.user.ID, twofa.SetupParams{Enabled: true, Method: method})
	require.NoError(t, err)
}

func TestGrantWithoutRequirement(t *testing.T) {
	env := setupFlowEnv(t)
	ctx := context.Background()

	require.NoError(t, env.roleService.SetRequirement(ctx, "administrator", false))

	result := env.flow.BeforeCredentialGrant(ctx, GrantRequest{Username: "bob"})
	assert.True(t, result.Allowed)
	assert.False(t, result.SetupRequired)
	assert.False(t, result.TwoFARequired)
	assert.NoError(t, result.ErrorResponse)
}

func TestGrantRejectedUntilSetupComplete(t *testing.T) {
	env := setupFlowEnv(t)

	// Role requires 2FA but bob never enrolled: the grant is refused, and no
	// code can change that until setup is done
	result := env.flow.BeforeCredentialGrant(context.Background(), GrantRequest{Username: "bob"})
	assert.False(t, result.Allowed)
	assert.True(t, result.SetupRequired)
	assert.False(t, result.TwoFARequired)
	assert.True(t, apperrors.IsCode(result.ErrorResponse, apperrors.ErrCode2FARequired))

	result = env.flow.BeforeCredentialGrant(context.Background(), GrantRequest{Username: "bob", Code: "000000"})
	assert.False(t, result.Allowed)
	assert.True(t, result.SetupRequired)
	assert.Empty(t, result.VerifiedToken)
}

func TestGrantEnrolledDemandsCode(t *testing.T) {
	env := setupFlowEnv(t)
	env.enroll(t, policy.MethodAuthApp)

	result := env.flow.BeforeCredentialGrant(context.Background(), GrantRequest{Username: "bob"})
	assert.False(t, result.Allowed)
	assert.True(t, result.TwoFARequired)
	assert.Equal(t, policy.MethodAuthApp, result.Method)
	assert.True(t, apperrors.IsCode(result.ErrorResponse, apperrors.ErrCode2FARequired))
}

func TestGrantVoluntaryEnrolleeDemandsCode(t *testing.T) {
	env := setupFlowEnv(t)
	ctx := context.Background()

	// No role requirement, but bob opted into 2FA himself: still challenged
	require.NoError(t, env.roleService.SetRequirement(ctx, "administrator", false))
	env.enroll(t, policy.MethodAuthApp)

	result := env.flow.BeforeCredentialGrant(ctx, GrantRequest{Username: "bob"})
	assert.False(t, result.Allowed)
	assert.True(t, result.TwoFARequired)
	assert.True(t, apperrors.IsCode(result.ErrorResponse, apperrors.ErrCode2FARequired))
}

func TestGrantWithValidCode(t *testing.T) {
	env := setupFlowEnv(t)
	env.enroll(t, policy.MethodAuthApp)
	ctx := context.Background()

	secret, err := env.twoFaService.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	result := env.flow.BeforeCredentialGrant(ctx, GrantRequest{
		Username: "bob", Code: code, IP: "10.0.0.1", UserAgent: "test",
	})
	assert.True(t, result.Allowed)
	assert.NoError(t, result.ErrorResponse)
	require.NotEmpty(t, result.VerifiedToken)

	userID, _, err := env.tokenService.Parse(result.VerifiedToken, tokens.StageVerified)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, userID)
}

func TestGrantWithInvalidCode(t *testing.T) {
	env := setupFlowEnv(t)
	env.enroll(t, policy.MethodAuthApp)

	result := env.flow.BeforeCredentialGrant(context.Background(), GrantRequest{
		Username: "bob", Code: "000000", IP: "10.0.0.1", UserAgent: "test",
	})
	assert.False(t, result.Allowed)
	assert.Empty(t, result.VerifiedToken)
	assert.True(t, apperrors.IsCode(result.ErrorResponse, apperrors.ErrCode2FAInvalid))
}

func TestGrantUnknownUser(t *testing.T) {
	env := setupFlowEnv(t)

	result := env.flow.BeforeCredentialGrant(context.Background(), GrantRequest{Username: "mallory"})
	assert.False(t, result.Allowed)
	assert.True(t, apperrors.IsCode(result.ErrorResponse, apperrors.ErrCodeUserNotFound))
}

func TestAdminGateRedirectsUntilSetup(t *testing.T) {
	env := setupFlowEnv(t)
	ctx := context.Background()

	// Setup owed: arbitrary admin pages redirect to the setup screen
	decision := env.flow.OnAdminRequest(ctx, AdminRequest{User: env.user, Path: "/admin/posts"})
	assert.True(t, decision.Redirect)
	assert.Equal(t, DefaultGateConfig().SetupPath, decision.Location)

	// Allow-listed pages stay reachable, including with a trailing slash
	decision = env.flow.OnAdminRequest(ctx, AdminRequest{User: env.user, Path: "/admin/profile/two-factor"})
	assert.False(t, decision.Redirect)
	decision = env.flow.OnAdminRequest(ctx, AdminRequest{User: env.user, Path: "/admin/profile/"})
	assert.False(t, decision.Redirect)
	decision = env.flow.OnAdminRequest(ctx, AdminRequest{User: env.user, Path: "/logout"})
	assert.False(t, decision.Redirect)

	// Once enrolled the gate opens
	env.enroll(t, policy.MethodEmail)
	decision = env.flow.OnAdminRequest(ctx, AdminRequest{User: env.user, Path: "/admin/posts"})
	assert.False(t, decision.Redirect)
}

func TestAdminGateIgnoresUnaffectedUsers(t *testing.T) {
	env := setupFlowEnv(t)
	ctx := context.Background()

	require.NoError(t, env.roleService.SetRequirement(ctx, "administrator", false))

	decision := env.flow.OnAdminRequest(ctx, AdminRequest{User: env.user, Path: "/admin/posts"})
	assert.False(t, decision.Redirect)
}

func TestOnProfileSaveLifecycle(t *testing.T) {
	env := setupFlowEnv(t)
	ctx := context.Background()

	settings, err := env.flow.OnProfileSave(ctx, env.user.ID, twofa.SetupParams{Enabled: true, Method: policy.MethodAuthApp})
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.True(t, settings.SetupComplete)

	state, err := env.twoFaService.EvaluateUser(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, policy.StateEnrolled, state)

	// Disabling tears the enrollment down again
	_, err = env.flow.OnProfileSave(ctx, env.user.ID, twofa.SetupParams{Enabled: false})
	require.NoError(t, err)

	state, err = env.twoFaService.EvaluateUser(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, policy.StateSetupRequired, state)
}
