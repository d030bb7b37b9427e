package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret-0123456789abcdef"

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec(testSecret, 15*time.Minute, time.Hour)

	token, expiresAt, err := codec.SignAccess("user-1", "a@example.com", RoleTeacher, "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := codec.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, RoleTeacher, claims.Role)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, TokenIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec(testSecret, time.Minute, 7*24*time.Hour)

	token, expiresAt, err := codec.SignRefresh("user-1", "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, 5*time.Second)

	claims, err := codec.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	codec := NewTokenCodec(testSecret, time.Minute, time.Hour)

	access, _, err := codec.SignAccess("u", "e@example.com", RoleAdmin, "s")
	require.NoError(t, err)
	refresh, _, err := codec.SignRefresh("u", "s")
	require.NoError(t, err)

	_, err = codec.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = codec.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewTokenCodec(testSecret, 15*time.Minute, time.Hour,
		WithClock(func() time.Time { return base }))
	verifier := NewTokenCodec(testSecret, 15*time.Minute, time.Hour,
		WithClock(func() time.Time { return base.Add(16 * time.Minute) }))

	token, _, err := signer.SignAccess("u", "e@example.com", RoleStudent, "s")
	require.NoError(t, err)

	// Still valid one minute before expiry.
	early := NewTokenCodec(testSecret, 15*time.Minute, time.Hour,
		WithClock(func() time.Time { return base.Add(14 * time.Minute) }))
	_, err = early.VerifyAccess(token)
	assert.NoError(t, err)

	_, err = verifier.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	codec := NewTokenCodec(testSecret, time.Minute, time.Hour)
	other := NewTokenCodec("a-completely-different-signing-key", time.Minute, time.Hour)

	token, _, err := other.SignAccess("u", "e@example.com", RoleAdmin, "s")
	require.NoError(t, err)
	_, err = codec.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsEmptyAndTampered(t *testing.T) {
	codec := NewTokenCodec(testSecret, time.Minute, time.Hour)

	_, err := codec.VerifyAccess("")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = codec.VerifyAccess("aaa.bbb.ccc")
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, _, err := codec.SignAccess("u", "e@example.com", RoleAdmin, "s")
	require.NoError(t, err)
	_, err = codec.VerifyAccess(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenHashDeterministic(t *testing.T) {
	assert.Equal(t, TokenHash("abc"), TokenHash("abc"))
	assert.NotEqual(t, TokenHash("abc"), TokenHash("abd"))
	assert.Len(t, TokenHash("abc"), 64)
}

func TestExpiryFrom(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := ExpiryFrom("15m", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), got)

	got, err = ExpiryFrom("7d", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(7*24*time.Hour), got)

	for _, bad := range []string{"", "abc", "-5m", "0d", "1w"} {
		_, err := ExpiryFrom(bad, from)
		assert.ErrorIs(t, err, ErrInvalidDuration, "spec %q", bad)
	}
}
