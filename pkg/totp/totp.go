package totp

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/acemedia/loginblock/pkg/utils"
)

const (
	// Period is the TOTP time step in seconds, per common authenticator
	// convention (RFC 6238 default).
	Period = 30

	// DefaultSkew tolerates one step of clock drift in either direction.
	DefaultSkew = 1

	// SecretLength is the number of Base32 symbols in a generated secret.
	SecretLength = 32
)

// GenerateSecret generates a new TOTP secret: length symbols drawn from the
// Base32 alphabet using a cryptographically secure source. A non-positive
// length falls back to SecretLength.
func GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = SecretLength
	}
	secret, err := utils.GenerateBase32Secret(length)
	if err != nil {
		slog.Error("Failed to generate totp secret", "error", err)
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return secret, nil
}

// Verify validates a passcode against a secret at the current time, allowing
// DefaultSkew steps of drift. A malformed secret or any validation error is
// treated as a failed verification, never a fatal error.
func Verify(secret, passcode string) bool {
	return VerifyAt(secret, passcode, time.Now().UTC(), DefaultSkew)
}

// VerifyAt validates a passcode against a secret at an explicit time.
func VerifyAt(secret, passcode string, at time.Time, skew uint) bool {
	valid, err := totp.ValidateCustom(passcode, secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Warn("TOTP validation error, treating as failure", "error", err)
		return false
	}
	return valid
}

// GenerateCode produces the current passcode for a secret. Used to verify
// enrollment and in tests.
func GenerateCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      DefaultSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate totp passcode: %w", err)
	}
	return code, nil
}

// ProvisioningURI formats the otpauth:// URI consumed by authenticator apps.
func ProvisioningURI(issuer, account, secret string) string {
	return fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer),
		url.PathEscape(account),
		secret,
		url.QueryEscape(issuer),
	)
}
