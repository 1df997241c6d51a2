package twofa

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
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
	"github.com/acemedia/loginblock/pkg/user"
)

type testEnv struct {
	service      *TwoFaService
	settingsRepo *InMemorySettingsRepository
	roleService  *role.RoleService
	backupCodes  *backupcodes.BackupCodesService
	auditLog     *auditlog.AuditService
	tokenService *tokens.TokenService
	notifier     *notification.MockNotifier
	user         user.User
}

func setupTestEnv(t *testing.T, maxAttempts int) *testEnv {
	t.Helper()
	cfg := config.DefaultTwoFaConfig()
	cfg.QRCodeDir = t.TempDir()
	return setupTestEnvWithConfig(t, maxAttempts, cfg)
}

func setupTestEnvWithConfig(t *testing.T, maxAttempts int, cfg config.TwoFaConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	userRepo := user.NewInMemoryUserRepository()
	u, err := userRepo.CreateUser(ctx, user.User{
		Username: "alice",
		Email:    "alice@example.com",
		Roles:    []string{"editor"},
	})
	require.NoError(t, err)

	roleRepo := role.NewInMemoryRequirementRepository()
	require.NoError(t, roleRepo.SetRequirement(ctx, "editor", true))

	notifier := &notification.MockNotifier{}
	manager := notification.NewNotificationManager()
	manager.RegisterNotifier(notification.EmailSystem, notifier)
	require.NoError(t, notice.RegisterTemplates(manager))

	settingsRepo := NewInMemorySettingsRepository()
	backupService := backupcodes.NewBackupCodesService(backupcodes.NewInMemoryCodeRepository())
	auditService := auditlog.NewAuditService(auditlog.NewInMemoryEntryRepository())
	tokenService := tokens.NewTokenService("test-secret-0123456789abcdef0123", "loginblock")
	roleService := role.NewRoleService(roleRepo)

	service := NewTwoFaService(
		settingsRepo,
		user.NewUserService(userRepo),
		roleService,
		backupService,
		auditService,
		ratelimit.NewAttemptLimiter(maxAttempts, time.Hour, 0),
		manager,
		tokenService,
		cfg,
	)

	return &testEnv{
		service:      service,
		settingsRepo: settingsRepo,
		roleService:  roleService,
		backupCodes:  backupService,
		auditLog:     auditService,
		tokenService: tokenService,
		notifier:     notifier,
		user:         u,
	}
}

func (e *testEnv) enroll(t *testing.T, method policy.Method) {
	t.Helper()
	_, err := e.service.HandleSetup(context.Background(), e.user.ID, SetupParams{Enabled: true, Method: method})
	require.NoError(t, err)
}

func (e *testEnv) lastEmailedCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, e.notifier.SentNotifications)
	last := e.notifier.SentNotifications[len(e.notifier.SentNotifications)-1]
	code := last.Data["TwofaPasscode"]
	require.NotEmpty(t, code)
	return code
}

func TestCheckStatusUnknownUser(t *testing.T) {
	env := setupTestEnv(t, 10)

	_, err := env.service.CheckStatus(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUserNotFound))
}

func TestCheckStatusNeedsSetup(t *testing.T) {
	env := setupTestEnv(t, 10)

	// Role requires 2FA but alice has not enrolled
	result, err := env.service.CheckStatus(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, result.Is2FAEnabled)
	assert.True(t, result.NeedsSetup)
	assert.Equal(t, policy.MethodEmail, result.Method)
	assert.Empty(t, result.PendingToken)
	assert.Empty(t, env.notifier.SentNotifications)
}

func TestCheckStatusEnrolledEmailSendsCode(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodEmail)

	result, err := env.service.CheckStatus(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, result.Is2FAEnabled)
	assert.False(t, result.NeedsSetup)
	assert.Equal(t, policy.MethodEmail, result.Method)
	assert.NotEmpty(t, result.PendingToken)

	// The pending token is tied to alice
	userID, claims, err := env.tokenService.Parse(result.PendingToken, tokens.StagePending)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, userID)
	assert.Equal(t, "email", claims.Method)

	// A passcode was emailed
	require.Len(t, env.notifier.SentNotifications, 1)
	assert.Equal(t, "alice@example.com", env.notifier.SentNotifications[0].To)
	assert.Len(t, env.lastEmailedCode(t), 6)
}

func TestVerifyTotpCode(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodAuthApp)
	ctx := context.Background()

	secret, err := env.service.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	result, err := env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: code, IP: "10.0.0.1", UserAgent: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, result.UserID)

	// The verified token parses as proof of verification
	userID, _, err := env.tokenService.Parse(result.VerifiedToken, tokens.StageVerified)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, userID)

	// Wrong code yields the uniform invalid error
	_, err = env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: "000000", IP: "10.0.0.1", UserAgent: "test",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCode2FAInvalid))

	// Both attempts were audited, newest first
	entries, err := env.auditLog.History(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Success)
	assert.True(t, entries[1].Success)
}

func TestVerifyEmailCode(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodEmail)
	ctx := context.Background()

	require.NoError(t, env.service.SendEmailCode(ctx, env.user.ID))
	code := env.lastEmailedCode(t)

	result, err := env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: code, IP: "10.0.0.1", UserAgent: "test",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.VerifiedToken)

	// The code is single-use
	_, err = env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: code, IP: "10.0.0.1", UserAgent: "test",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCode2FAInvalid))
}

func TestVerifyEmailCodeConcurrentlySingleUse(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodEmail)
	ctx := context.Background()

	require.NoError(t, env.service.SendEmailCode(ctx, env.user.ID))
	code := env.lastEmailedCode(t)

	// Racing submissions of the same code: the version check on the settings
	// write lets exactly one clear the code and succeed
	const racers = 2
	verified := make(chan string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.service.VerifyCode(ctx, VerifyRequest{
				Username: "alice", Code: code, IP: "10.0.0.1", UserAgent: "test",
			})
			if err == nil {
				verified <- result.VerifiedToken
			}
		}()
	}
	wg.Wait()
	close(verified)

	successes := 0
	for token := range verified {
		assert.NotEmpty(t, token)
		successes++
	}
	assert.Equal(t, 1, successes)
}

func TestVerifyEmailCodeExpired(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodEmail)
	ctx := context.Background()

	require.NoError(t, env.service.SendEmailCode(ctx, env.user.ID))
	code := env.lastEmailedCode(t)

	// Age the stored code past its validity window
	stored, err := env.settingsRepo.Get(ctx, env.user.ID)
	require.NoError(t, err)
	stored.EmailCodeIssuedAt = time.Now().UTC().Add(-6 * time.Minute)
	_, err = env.settingsRepo.Upsert(ctx, stored)
	require.NoError(t, err)

	_, err = env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: code, IP: "10.0.0.1", UserAgent: "test",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCode2FAInvalid))
}

func TestVerifyBackupCode(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodAuthApp)
	ctx := context.Background()

	codes, fresh, err := env.backupCodes.GetOrGenerate(ctx, env.user.ID, false)
	require.NoError(t, err)
	require.True(t, fresh)

	// A backup code verifies even though the configured method is TOTP
	result, err := env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: codes[0], IP: "10.0.0.1", UserAgent: "test",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.VerifiedToken)

	// Consumed codes are gone
	_, err = env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: codes[0], IP: "10.0.0.1", UserAgent: "test",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCode2FAInvalid))
}

func TestVerifyRateLimited(t *testing.T) {
	env := setupTestEnv(t, 3)
	env.enroll(t, policy.MethodAuthApp)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.service.VerifyCode(ctx, VerifyRequest{
			Username: "alice", Code: "000000", IP: "10.0.0.1", UserAgent: "test",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCode2FAInvalid))
	}

	// Past the threshold even a correct code is rejected
	secret, err := env.service.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	_, err = env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: code, IP: "10.0.0.1", UserAgent: "test",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimitExceeded))

	// The limited attempt is audited as a failure
	entries, err := env.auditLog.History(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.False(t, entries[0].Success)
}

func TestVerifyMissingCode(t *testing.T) {
	env := setupTestEnv(t, 10)

	_, err := env.service.VerifyCode(context.Background(), VerifyRequest{Username: "alice"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequired))
}

func TestGetOrCreateSecretIdempotent(t *testing.T) {
	env := setupTestEnv(t, 10)
	ctx := context.Background()

	first, err := env.service.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Len(t, first, totp.SecretLength)

	second, err := env.service.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSecretLengthConfigHonored(t *testing.T) {
	cfg := config.DefaultTwoFaConfig()
	cfg.QRCodeDir = t.TempDir()
	cfg.SecretLength = 16
	env := setupTestEnvWithConfig(t, 10, cfg)

	secret, err := env.service.GetOrCreateSecret(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Len(t, secret, 16)
}

func TestTotpSkewConfigHonored(t *testing.T) {
	cfg := config.DefaultTwoFaConfig()
	cfg.QRCodeDir = t.TempDir()
	cfg.TOTPSkew = 3
	env := setupTestEnvWithConfig(t, 10, cfg)
	env.enroll(t, policy.MethodAuthApp)
	ctx := context.Background()

	secret, err := env.service.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)

	// Two steps stale: outside the default one-step window, accepted only
	// because the configured skew widens it
	staleCode, err := totp.GenerateCode(secret, time.Now().UTC().Add(-2*totp.Period*time.Second))
	require.NoError(t, err)

	result, err := env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: staleCode, IP: "10.0.0.1", UserAgent: "test",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.VerifiedToken)
}

func TestHandleSetupRejectsUnknownMethod(t *testing.T) {
	env := setupTestEnv(t, 10)

	_, err := env.service.HandleSetup(context.Background(), env.user.ID, SetupParams{Enabled: true, Method: "carrier_pigeon"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestDisableTearsDownState(t *testing.T) {
	env := setupTestEnv(t, 10)
	env.enroll(t, policy.MethodAuthApp)
	ctx := context.Background()

	_, err := env.service.GetOrCreateSecret(ctx, env.user.ID)
	require.NoError(t, err)
	codes, _, err := env.backupCodes.GetOrGenerate(ctx, env.user.ID, false)
	require.NoError(t, err)

	state, err := env.service.EvaluateUser(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, policy.StateEnrolled, state)

	require.NoError(t, env.service.Disable(ctx, env.user.ID))

	// Settings are gone
	_, err = env.settingsRepo.Get(ctx, env.user.ID)
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	// Backup codes no longer verify
	_, err = env.service.VerifyCode(ctx, VerifyRequest{
		Username: "alice", Code: codes[0], IP: "10.0.0.1", UserAgent: "test",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCode2FAInvalid))

	// Policy demands setup again since the editor role still requires 2FA
	state, err = env.service.EvaluateUser(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, policy.StateSetupRequired, state)
}

func TestEvaluateUserNoRequirement(t *testing.T) {
	env := setupTestEnv(t, 10)
	ctx := context.Background()

	require.NoError(t, env.roleService.SetRequirement(ctx, "editor", false))

	state, err := env.service.EvaluateUser(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, policy.StateNoTwoFARequired, state)
}

func TestWriteQRCode(t *testing.T) {
	env := setupTestEnv(t, 10)
	ctx := context.Background()

	path, err := env.service.WriteQRCode(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, env.service.QRCodePath(env.user.ID), path)
	assert.FileExists(t, path)

	require.NoError(t, env.service.RemoveQRCode(env.user.ID))
	assert.NoFileExists(t, path)
}

func TestUpsertVersionConflict(t *testing.T) {
	repo := NewInMemorySettingsRepository()
	ctx := context.Background()
	userID := uuid.New()

	stored, err := repo.Upsert(ctx, Settings{UserID: userID, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	// A writer holding the old version loses
	stale := stored
	stale.Version = 0
	_, err = repo.Upsert(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The current version wins and increments
	stored.SetupComplete = true
	updated, err := repo.Upsert(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
}
