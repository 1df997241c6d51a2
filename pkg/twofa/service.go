// Package twofa stores per-user 2FA settings and orchestrates status checks,
// code delivery, and verification across the TOTP, email, and backup code
// factors.
package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

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
	"github.com/acemedia/loginblock/pkg/utils"
)

// TwoFaService wires the settings store together with the collaborating
// services into the verification flow.
type TwoFaService struct {
	settingsRepo        SettingsRepository
	userService         *user.UserService
	roleService         *role.RoleService
	backupCodes         *backupcodes.BackupCodesService
	auditLog            *auditlog.AuditService
	limiter             *ratelimit.AttemptLimiter
	notificationManager *notification.NotificationManager
	tokenService        *tokens.TokenService
	config              config.TwoFaConfig
}

// NewTwoFaService creates a new 2FA service
func NewTwoFaService(
	settingsRepo SettingsRepository,
	userService *user.UserService,
	roleService *role.RoleService,
	backupCodesService *backupcodes.BackupCodesService,
	auditService *auditlog.AuditService,
	limiter *ratelimit.AttemptLimiter,
	notificationManager *notification.NotificationManager,
	tokenService *tokens.TokenService,
	cfg config.TwoFaConfig,
) *TwoFaService {
	return &TwoFaService{
		settingsRepo:        settingsRepo,
		userService:         userService,
		roleService:         roleService,
		backupCodes:         backupCodesService,
		auditLog:            auditService,
		limiter:             limiter,
		notificationManager: notificationManager,
		tokenService:        tokenService,
		config:              cfg,
	}
}

type (
	// CheckStatusResult is what the login form needs before it can decide
	// whether to ask for a second factor.
	CheckStatusResult struct {
		UserID       uuid.UUID     `json:"user_id"`
		Is2FAEnabled bool          `json:"is_2fa_enabled"`
		Method       policy.Method `json:"method"`
		NeedsSetup   bool          `json:"needs_2fa_setup"`
		PendingToken string        `json:"pending_token,omitempty"`
	}

	// VerifyRequest carries one verification attempt.
	VerifyRequest struct {
		Username  string
		Code      string
		IP        string
		UserAgent string
	}

	// VerifyResult reports a successful verification.
	VerifyResult struct {
		UserID        uuid.UUID `json:"user_id"`
		VerifiedToken string    `json:"verified_token"`
	}

	// SetupParams is what a profile save submits.
	SetupParams struct {
		Enabled bool
		Method  policy.Method
	}
)

// CheckStatus reports whether the named user must complete a second factor
// and, when the method is email, kicks off passcode delivery. A pending token
// is issued so the follow-up verify call can be tied to this login attempt.
func (s *TwoFaService) CheckStatus(ctx context.Context, username string) (CheckStatusResult, error) {
	u, err := s.userService.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return CheckStatusResult{}, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user not found: %s", username)
		}
		return CheckStatusResult{}, apperrors.InternalWrap(err, "failed to look up user")
	}

	settings, err := s.getOrEmptySettings(ctx, u.ID)
	if err != nil {
		return CheckStatusResult{}, err
	}

	engine, err := s.policyEngine(ctx)
	if err != nil {
		return CheckStatusResult{}, err
	}

	result := CheckStatusResult{
		UserID:       u.ID,
		Is2FAEnabled: settings.Enabled && settings.SetupComplete,
		Method:       engine.EffectiveMethod(settings.Enrollment()),
		NeedsSetup:   engine.UserNeedsSetup(u.Roles, settings.Enrollment()),
	}

	if result.Is2FAEnabled {
		pendingToken, _, err := s.tokenService.IssuePending(u.ID, string(result.Method))
		if err != nil {
			return CheckStatusResult{}, apperrors.InternalWrap(err, "failed to issue pending token")
		}
		result.PendingToken = pendingToken

		// Email delivery failure must not block the login form, the user can
		// still fall back to a backup code
		if result.Method == policy.MethodEmail {
			if err := s.SendEmailCode(ctx, u.ID); err != nil {
				slog.Error("Failed to send 2FA email code", "userID", u.ID, "error", err)
			}
		}
	}

	return result, nil
}

// VerifyCode checks a submitted code against the user's factors in order:
// rate limit gate, backup codes, then the configured method. Every attempt
// is recorded. Failures are reported with one uniform error so responses do
// not reveal which factor was closest.
func (s *TwoFaService) VerifyCode(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	u, err := s.userService.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return VerifyResult{}, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user not found: %s", req.Username)
		}
		return VerifyResult{}, apperrors.InternalWrap(err, "failed to look up user")
	}

	if req.Code == "" {
		return VerifyResult{}, apperrors.MissingRequired("code")
	}

	if !s.limiter.Allow(u.ID.String()) {
		s.recordAttempt(ctx, u.ID, req, false)
		return VerifyResult{}, apperrors.RateLimitExceeded("")
	}

	ok, err := s.verifyAnyFactor(ctx, u.ID, req.Code)
	if err != nil {
		return VerifyResult{}, err
	}

	s.recordAttempt(ctx, u.ID, req, ok)

	if !ok {
		return VerifyResult{}, apperrors.New(apperrors.ErrCode2FAInvalid, "invalid verification code")
	}

	verifiedToken, _, err := s.tokenService.IssueVerified(u.ID)
	if err != nil {
		return VerifyResult{}, apperrors.InternalWrap(err, "failed to issue verified token")
	}

	slog.Info("2FA verification succeeded", "userID", u.ID)
	return VerifyResult{UserID: u.ID, VerifiedToken: verifiedToken}, nil
}

// verifyAnyFactor tries backup codes first, then the configured method.
func (s *TwoFaService) verifyAnyFactor(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	consumed, err := s.backupCodes.Consume(ctx, userID, code)
	if err != nil {
		return false, apperrors.StorageFailed(err, "failed to check backup codes")
	}
	if consumed {
		return true, nil
	}

	settings, err := s.getOrEmptySettings(ctx, userID)
	if err != nil {
		return false, err
	}
	if !settings.Enabled {
		return false, nil
	}

	switch settings.Method {
	case policy.MethodAuthApp:
		return totp.VerifyAt(settings.Secret, code, time.Now().UTC(), s.config.TOTPSkew), nil
	case policy.MethodEmail:
		return s.verifyEmailCode(ctx, settings, code)
	default:
		return false, nil
	}
}

// verifyEmailCode checks the stored single-use code and its issuance window.
// The decisive match runs inside the version-checked mutation so that two
// concurrent submissions of the same code succeed exactly once: the loser's
// retry re-reads the already-cleared code and fails the re-check.
func (s *TwoFaService) verifyEmailCode(ctx context.Context, settings Settings, code string) (bool, error) {
	if settings.EmailCode == "" || settings.EmailCode != code {
		return false, nil
	}
	if time.Since(settings.EmailCodeIssuedAt) > s.config.EmailCodeTTL {
		slog.Info("Expired email code submitted", "userID", settings.UserID)
		return false, nil
	}

	matched := false
	_, err := s.mutateSettings(ctx, settings.UserID, func(current *Settings) {
		matched = current.EmailCode == code &&
			time.Since(current.EmailCodeIssuedAt) <= s.config.EmailCodeTTL
		if matched {
			current.EmailCode = ""
			current.EmailCodeIssuedAt = time.Time{}
		}
	})
	if err != nil {
		return false, apperrors.StorageFailed(err, "failed to clear email code")
	}
	return matched, nil
}

// SendEmailCode generates a fresh single-use passcode, stores it with its
// issuance time, and emails it to the user.
func (s *TwoFaService) SendEmailCode(ctx context.Context, userID uuid.UUID) error {
	u, err := s.userService.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	passcode, err := utils.GenerateRandomString(s.config.EmailCodeLength)
	if err != nil {
		return fmt.Errorf("failed to generate email code: %w", err)
	}

	if _, err := s.mutateSettings(ctx, userID, func(current *Settings) {
		current.EmailCode = passcode
		current.EmailCodeIssuedAt = time.Now().UTC()
	}); err != nil {
		return fmt.Errorf("failed to store email code: %w", err)
	}

	err = s.notificationManager.Send(notice.TwofaCodeNotice, notification.NotificationData{
		To: u.Email,
		Data: map[string]string{
			"TwofaPasscode": passcode,
			"ValidFor":      s.config.EmailCodeTTL.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email code: %w", err)
	}

	slog.Info("2FA email code sent", "userID", userID)
	return nil
}

// GetOrCreateSecret returns the user's TOTP secret, generating and storing
// one on first use. Repeated calls return the same secret.
func (s *TwoFaService) GetOrCreateSecret(ctx context.Context, userID uuid.UUID) (string, error) {
	settings, err := s.getOrEmptySettings(ctx, userID)
	if err != nil {
		return "", err
	}
	if settings.Secret != "" {
		return settings.Secret, nil
	}

	newSecret, err := totp.GenerateSecret(s.config.SecretLength)
	if err != nil {
		return "", apperrors.InternalWrap(err, "failed to generate totp secret")
	}

	updated, err := s.mutateSettings(ctx, userID, func(current *Settings) {
		// A concurrent call may have won the race, keep its secret
		if current.Secret == "" {
			current.Secret = newSecret
		}
	})
	if err != nil {
		return "", apperrors.StorageFailed(err, "failed to store totp secret")
	}
	return updated.Secret, nil
}

// HandleSetup applies a profile save. Enabling with a valid method marks
// setup complete; disabling tears 2FA down entirely.
func (s *TwoFaService) HandleSetup(ctx context.Context, userID uuid.UUID, params SetupParams) (Settings, error) {
	if _, err := s.userService.FindByID(ctx, userID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return Settings{}, apperrors.Newf(apperrors.ErrCodeUserNotFound, "user not found: %s", userID)
		}
		return Settings{}, apperrors.InternalWrap(err, "failed to look up user")
	}

	if !params.Enabled {
		if err := s.Disable(ctx, userID); err != nil {
			return Settings{}, err
		}
		return Settings{UserID: userID}, nil
	}

	if !policy.ValidMethod(params.Method) {
		return Settings{}, apperrors.InvalidInput("method", fmt.Sprintf("unknown 2fa method %q", params.Method))
	}

	updated, err := s.mutateSettings(ctx, userID, func(current *Settings) {
		current.Enabled = true
		current.Method = params.Method
		current.SetupComplete = true
	})
	if err != nil {
		return Settings{}, apperrors.StorageFailed(err, "failed to save 2fa settings")
	}

	slog.Info("2FA setup saved", "userID", userID, "method", params.Method)
	return updated, nil
}

// Disable removes the user's 2FA settings and backup codes. The next policy
// evaluation will demand setup again if a role still requires 2FA.
func (s *TwoFaService) Disable(ctx context.Context, userID uuid.UUID) error {
	if err := s.settingsRepo.Delete(ctx, userID); err != nil {
		return apperrors.StorageFailed(err, "failed to delete 2fa settings")
	}
	if err := s.backupCodes.Purge(ctx, userID); err != nil {
		return apperrors.StorageFailed(err, "failed to purge backup codes")
	}

	slog.Info("2FA disabled", "userID", userID)
	return nil
}

// Settings returns the user's stored settings, or an empty record when the
// user has none yet.
func (s *TwoFaService) Settings(ctx context.Context, userID uuid.UUID) (Settings, error) {
	return s.getOrEmptySettings(ctx, userID)
}

// EvaluateUser runs the policy engine for one user.
func (s *TwoFaService) EvaluateUser(ctx context.Context, u user.User) (policy.State, error) {
	settings, err := s.getOrEmptySettings(ctx, u.ID)
	if err != nil {
		return "", err
	}
	engine, err := s.policyEngine(ctx)
	if err != nil {
		return "", err
	}
	return engine.EvaluateState(u.Roles, settings.Enrollment()), nil
}

// ProvisioningURI builds the otpauth:// URI for the user's secret.
func (s *TwoFaService) ProvisioningURI(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.userService.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	secret, err := s.GetOrCreateSecret(ctx, userID)
	if err != nil {
		return "", err
	}
	return totp.ProvisioningURI(s.config.Issuer, u.Username, secret), nil
}

// QRCodePath is the deterministic location of the user's provisioning image.
func (s *TwoFaService) QRCodePath(userID uuid.UUID) string {
	return filepath.Join(s.config.QRCodeDir, userID.String()+".png")
}

// WriteQRCode renders the user's provisioning QR image to its deterministic
// path and returns that path.
func (s *TwoFaService) WriteQRCode(ctx context.Context, userID uuid.UUID) (string, error) {
	uri, err := s.ProvisioningURI(ctx, userID)
	if err != nil {
		return "", err
	}

	path := s.QRCodePath(userID)
	if err := totp.WriteQRCode(uri, path, 200); err != nil {
		return "", apperrors.InternalWrap(err, "failed to write qr code")
	}
	return path, nil
}

// RemoveQRCode deletes the user's provisioning image, e.g. on disable.
func (s *TwoFaService) RemoveQRCode(userID uuid.UUID) error {
	err := os.Remove(s.QRCodePath(userID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove qr code: %w", err)
	}
	return nil
}

func (s *TwoFaService) getOrEmptySettings(ctx context.Context, userID uuid.UUID) (Settings, error) {
	settings, err := s.settingsRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSettingsNotFound) {
			return Settings{UserID: userID}, nil
		}
		return Settings{}, apperrors.StorageFailed(err, "failed to get 2fa settings")
	}
	return settings, nil
}

func (s *TwoFaService) policyEngine(ctx context.Context) (*policy.Engine, error) {
	snapshot, err := s.roleService.Requirements(ctx)
	if err != nil {
		return nil, apperrors.StorageFailed(err, "failed to get role requirements")
	}
	return policy.NewEngine(snapshot), nil
}

// mutateSettings applies fn under optimistic concurrency, re-reading and
// retrying on version conflicts.
func (s *TwoFaService) mutateSettings(ctx context.Context, userID uuid.UUID, fn func(*Settings)) (Settings, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		current, err := s.settingsRepo.Get(ctx, userID)
		if err != nil {
			if !errors.Is(err, ErrSettingsNotFound) {
				return Settings{}, fmt.Errorf("failed to get 2fa settings: %w", err)
			}
			current = Settings{UserID: userID}
		}

		fn(&current)

		updated, err := s.settingsRepo.Upsert(ctx, current)
		if err != nil {
			if errors.Is(err, ErrVersionConflict) {
				slog.Warn("2FA settings version conflict, retrying", "userID", userID, "attempt", attempt+1)
				continue
			}
			return Settings{}, fmt.Errorf("failed to upsert 2fa settings: %w", err)
		}
		return updated, nil
	}

	return Settings{}, fmt.Errorf("failed to update 2fa settings: %w", ErrVersionConflict)
}

func (s *TwoFaService) recordAttempt(ctx context.Context, userID uuid.UUID, req VerifyRequest, success bool) {
	if err := s.auditLog.RecordAttempt(ctx, userID, req.IP, req.UserAgent, auditlog.ActionVerify, success); err != nil {
		slog.Error("Failed to record verification attempt", "userID", userID, "error", err)
	}
}
