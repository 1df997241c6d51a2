package config

import "time"

// TwoFaConfig contains settings for 2FA code issuance and verification.
type TwoFaConfig struct {
	// Issuer is the name shown in authenticator apps and otpauth URIs.
	Issuer string `env:"TWOFA_ISSUER" env-default:"acemedia"`

	// EmailCodeLength is the length of emailed passcodes.
	EmailCodeLength int `env:"TWOFA_EMAIL_CODE_LENGTH" env-default:"6"`

	// EmailCodeTTL is how long an emailed passcode stays valid. The code
	// carries an issuance timestamp and is rejected once this window passes.
	EmailCodeTTL time.Duration `env:"TWOFA_EMAIL_CODE_TTL" env-default:"5m"`

	// SecretLength is the number of Base32 symbols in a TOTP secret.
	SecretLength int `env:"TWOFA_SECRET_LENGTH" env-default:"32"`

	// TOTPSkew is the number of 30-second steps of clock drift tolerated in
	// either direction when validating a TOTP code.
	TOTPSkew uint `env:"TWOFA_TOTP_SKEW" env-default:"1"`

	// QRCodeDir is the directory where per-user provisioning QR images are
	// written. Created on demand.
	QRCodeDir string `env:"TWOFA_QRCODE_DIR" env-default:"qrcodes"`
}

// DefaultTwoFaConfig returns a TwoFaConfig with production defaults
func DefaultTwoFaConfig() TwoFaConfig {
	return TwoFaConfig{
		Issuer:          "acemedia",
		EmailCodeLength: 6,
		EmailCodeTTL:    5 * time.Minute,
		SecretLength:    32,
		TOTPSkew:        1,
		QRCodeDir:       "qrcodes",
	}
}
