package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"))
	assert.NotEqual(t, "Str0ng!pass", hash)

	ok, err := VerifyPassword(hash, "Str0ng!pass")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong-password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	a, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)
	b, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	_, err := VerifyPassword("not-a-bcrypt-hash", "anything")
	assert.Error(t, err)
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		name       string
		password   string
		violations int
	}{
		{"acceptable", "Str0ng!pass", 0},
		{"all rules broken", "", 5},
		{"no symbol", "Abcdefg1", 1},
		{"no digit no symbol", "Abcdefgh", 2},
		{"short but otherwise complete", "Ab1!", 1},
		{"unicode symbol counts", "Abcdefg1€", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidatePasswordStrength(tc.password)
			assert.Len(t, got, tc.violations)
		})
	}
}
