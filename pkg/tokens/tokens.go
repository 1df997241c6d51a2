// Package tokens issues and validates the short-lived JWTs that carry a
// login between the password check and the second factor. A pending token
// proves the password was accepted and names the expected 2FA method; a
// verified token proves the second factor passed and is what the host
// application accepts before granting a session.
package tokens

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Stage marks how far through the 2FA flow a token's holder is.
type Stage string

const (
	StagePending  Stage = "2fa_pending"
	StageVerified Stage = "2fa_verified"
)

const (
	DefaultPendingTTL  = 5 * time.Minute
	DefaultVerifiedTTL = 10 * time.Minute
)

// TwoFaClaims are the claims carried by pending and verified tokens.
type TwoFaClaims struct {
	Stage  Stage  `json:"stage"`
	Method string `json:"method,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and parses 2FA flow tokens with a shared HMAC secret.
type TokenService struct {
	secret      []byte
	issuer      string
	pendingTTL  time.Duration
	verifiedTTL time.Duration
}

// NewTokenService creates a token service with default lifetimes.
func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{
		secret:      []byte(secret),
		issuer:      issuer,
		pendingTTL:  DefaultPendingTTL,
		verifiedTTL: DefaultVerifiedTTL,
	}
}

// IssuePending creates a token proving the password check passed and naming
// the 2FA method the user is expected to complete.
func (s *TokenService) IssuePending(userID uuid.UUID, method string) (string, time.Time, error) {
	return s.issue(userID, StagePending, method, s.pendingTTL)
}

// IssueVerified creates a token proving the second factor was completed.
func (s *TokenService) IssueVerified(userID uuid.UUID) (string, time.Time, error) {
	return s.issue(userID, StageVerified, "", s.verifiedTTL)
}

func (s *TokenService) issue(userID uuid.UUID, stage Stage, method string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	claims := TwoFaClaims{
		Stage:  stage,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			Issuer:    s.issuer,
			Subject:   userID.String(),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(s.secret)
	if err != nil {
		slog.Error("Failed to sign 2FA token", "stage", stage, "err", err)
		return "", time.Time{}, err
	}
	return ss, claims.ExpiresAt.Time, nil
}

// Parse validates a token string and checks it carries the wanted stage.
// It returns the user ID the token was issued for.
func (s *TokenService) Parse(tokenStr string, want Stage) (uuid.UUID, *TwoFaClaims, error) {
	claims := &TwoFaClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, nil, fmt.Errorf("invalid token")
	}

	if claims.Stage != want {
		return uuid.Nil, nil, fmt.Errorf("wrong token stage: got %q, want %q", claims.Stage, want)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid token subject: %w", err)
	}

	return userID, claims, nil
}
