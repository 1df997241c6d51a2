package utils

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// base32Alphabet is the RFC 4648 Base32 alphabet used for TOTP secrets.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// alphanumeric is the alphabet used for email passcodes.
const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateBase32Secret generates n symbols drawn independently from the
// Base32 alphabet using crypto/rand.
func GenerateBase32Secret(n int) (string, error) {
	return randomFromAlphabet(base32Alphabet, n)
}

// GenerateRandomString generates an alphanumeric string of length n using
// crypto/rand.
func GenerateRandomString(n int) (string, error) {
	return randomFromAlphabet(alphanumeric, n)
}

// GenerateBackupCode generates a single backup code: 4 bytes of
// cryptographically random data rendered as 8 upper-case hex characters.
func GenerateBackupCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func randomFromAlphabet(alphabet string, n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random index: %w", err)
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

func ToNullString(str string) sql.NullString {
	if str == "" {
		return sql.NullString{
			String: str,
			Valid:  false,
		}
	}
	return sql.NullString{
		String: str,
		Valid:  true,
	}
}
