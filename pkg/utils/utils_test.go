package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBase32Secret(t *testing.T) {
	secret, err := GenerateBase32Secret(32)
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	for _, c := range secret {
		assert.Contains(t, base32Alphabet, string(c))
	}

	other, err := GenerateBase32Secret(32)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestGenerateRandomString(t *testing.T) {
	code, err := GenerateRandomString(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	for _, c := range code {
		assert.Contains(t, alphanumeric, string(c))
	}
}

func TestGenerateBackupCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		code, err := GenerateBackupCode()
		require.NoError(t, err)
		assert.Len(t, code, 8)
		assert.Regexp(t, "^[0-9A-F]{8}$", code)
		seen[code] = true
	}
	// 20 four-byte random codes colliding is effectively impossible
	assert.Greater(t, len(seen), 15)
}
