// Package api exposes the 2FA REST endpoints: public status and verify
// routes used by the login form, and JWT-protected profile routes for setup
// and backup codes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/acemedia/loginblock/pkg/backupcodes"
	apperrors "github.com/acemedia/loginblock/pkg/errors"
	"github.com/acemedia/loginblock/pkg/policy"
	"github.com/acemedia/loginblock/pkg/ratelimit"
	"github.com/acemedia/loginblock/pkg/twofa"
)

type Handle struct {
	twoFaService *twofa.TwoFaService
	backupCodes  *backupcodes.BackupCodesService
	jwtAuth      *jwtauth.JWTAuth
}

// NewHandle creates a new Handle
func NewHandle(twoFaService *twofa.TwoFaService, backupCodesService *backupcodes.BackupCodesService, jwtAuth *jwtauth.JWTAuth) *Handle {
	return &Handle{
		twoFaService: twoFaService,
		backupCodes:  backupCodesService,
		jwtAuth:      jwtAuth,
	}
}

// Routes returns the handler tree. Mount it under the host's API prefix,
// e.g. /acemedia/v1.
func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()

	// Public: the login form calls these before any session exists
	r.Post("/check-2fa", h.PostCheck2fa)
	r.Post("/verify-2fa", h.PostVerify2fa)

	// Protected: profile operations on the caller's own account
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.jwtAuth))
		r.Use(jwtauth.Authenticator(h.jwtAuth))
		r.Post("/setup-2fa", h.PostSetup2fa)
		r.Post("/backup-codes", h.PostBackupCodes)
	})

	return r
}

// PostCheck2fa reports the 2FA obligations for a username.
// (POST /check-2fa)
func (h *Handle) PostCheck2fa(w http.ResponseWriter, r *http.Request) {
	data := CheckTwoFaRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	if data.Username == "" {
		renderError(w, r, apperrors.MissingRequired("username"))
		return
	}

	result, err := h.twoFaService.CheckStatus(r.Context(), data.Username)
	if err != nil {
		renderError(w, r, err)
		return
	}

	var resp CheckTwoFaResponse
	copier.Copy(&resp, &result)
	render.JSON(w, r, resp)
}

// PostVerify2fa verifies a submitted code.
// (POST /verify-2fa)
func (h *Handle) PostVerify2fa(w http.ResponseWriter, r *http.Request) {
	data := VerifyTwoFaRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	if data.Username == "" {
		renderError(w, r, apperrors.MissingRequired("username"))
		return
	}

	result, err := h.twoFaService.VerifyCode(r.Context(), twofa.VerifyRequest{
		Username:  data.Username,
		Code:      data.Code,
		IP:        ratelimit.GetClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, VerifyTwoFaResponse{
		Success: true,
		Token:   result.VerifiedToken,
	})
}

// PostSetup2fa applies the caller's 2FA profile settings.
// (POST /setup-2fa)
func (h *Handle) PostSetup2fa(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticatedUserID(r)
	if err != nil {
		renderError(w, r, err)
		return
	}

	data := SetupTwoFaRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	settings, err := h.twoFaService.HandleSetup(r.Context(), userID, twofa.SetupParams{
		Enabled: data.Enabled,
		Method:  policy.Method(data.Method),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	resp := SetupTwoFaResponse{
		Enabled:       settings.Enabled,
		Method:        string(settings.Method),
		SetupComplete: settings.SetupComplete,
	}

	// Authenticator enrollment needs the provisioning material
	if settings.Enabled && settings.Method == policy.MethodAuthApp {
		uri, err := h.twoFaService.ProvisioningURI(r.Context(), userID)
		if err != nil {
			renderError(w, r, err)
			return
		}
		path, err := h.twoFaService.WriteQRCode(r.Context(), userID)
		if err != nil {
			renderError(w, r, err)
			return
		}
		resp.ProvisioningURI = uri
		resp.QRCodePath = path
	}

	render.JSON(w, r, resp)
}

// PostBackupCodes returns the caller's backup codes, regenerating on demand.
// (POST /backup-codes)
func (h *Handle) PostBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticatedUserID(r)
	if err != nil {
		renderError(w, r, err)
		return
	}

	data := BackupCodesRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	codes, fresh, err := h.backupCodes.GetOrGenerate(r.Context(), userID, data.ForceNew)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, BackupCodesResponse{Codes: codes, Fresh: fresh})
}

// authenticatedUserID pulls the caller's user ID out of the verified JWT.
func authenticatedUserID(r *http.Request) (uuid.UUID, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, apperrors.New(apperrors.ErrCode2FARequired, "missing authentication")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, apperrors.New(apperrors.ErrCode2FARequired, "invalid authentication subject")
	}
	return userID, nil
}

// renderError maps structured errors onto HTTP statuses with a uniform body.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	status := apperrors.MapErrorCodeToHTTPStatus(code)

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	}

	// Internal details stay out of response bodies
	message := "internal error"
	var structured *apperrors.Error
	if errors.As(err, &structured) && status < http.StatusInternalServerError {
		message = structured.Message
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: string(code), Message: message})
}
