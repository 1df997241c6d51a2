package api

// CheckTwoFaRequest asks whether a username must complete a second factor.
type CheckTwoFaRequest struct {
	Username string `json:"username"`
}

// CheckTwoFaResponse is what the login form consumes.
type CheckTwoFaResponse struct {
	Is2FAEnabled bool   `json:"is2FAEnabled"`
	Method       string `json:"method"`
	NeedsSetup   bool   `json:"needs2FASetup"`
	PendingToken string `json:"pendingToken,omitempty"`
}

// VerifyTwoFaRequest submits one verification attempt.
type VerifyTwoFaRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

// VerifyTwoFaResponse reports the attempt outcome.
type VerifyTwoFaResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// SetupTwoFaRequest is the 2FA portion of a profile save.
type SetupTwoFaRequest struct {
	Enabled bool   `json:"enabled"`
	Method  string `json:"method,omitempty"`
}

// SetupTwoFaResponse echoes the saved state plus provisioning material for
// authenticator apps.
type SetupTwoFaResponse struct {
	Enabled         bool   `json:"enabled"`
	Method          string `json:"method,omitempty"`
	SetupComplete   bool   `json:"setupComplete"`
	ProvisioningURI string `json:"provisioningUri,omitempty"`
	QRCodePath      string `json:"qrCodePath,omitempty"`
}

// BackupCodesRequest fetches or regenerates the recovery code batch.
type BackupCodesRequest struct {
	ForceNew bool `json:"force_new"`
}

// BackupCodesResponse carries plaintext codes exactly once (Fresh=true) or
// masked placeholders thereafter.
type BackupCodesResponse struct {
	Codes []string `json:"codes"`
	Fresh bool     `json:"fresh"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
