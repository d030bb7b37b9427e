package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenIssuer and TokenAudience are bound into every token and checked
	// during verification.
	TokenIssuer   = "meridian-sms"
	TokenAudience = "meridian-api"

	refreshKind = "refresh"
)

// AccessClaims is the payload carried by access tokens. Kind is empty on
// access tokens; it is decoded so a refresh token presented as a bearer
// token is rejected at the codec, not just by the session lookup.
type AccessClaims struct {
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`
	Kind      string `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload carried by refresh tokens.
type RefreshClaims struct {
	SessionID string `json:"sid"`
	Kind      string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the two token kinds using HS256. It is
// pure cryptography: liveness against revocation is the orchestrator's
// job, via the session store.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the codec time source, useful in tests.
func WithClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec constructs a codec with the given signing secret and
// token lifetimes.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess issues a short-lived access token bound to a session.
func (c *TokenCodec) SignAccess(userID, email string, role Role, sessionID string) (string, time.Time, error) {
	now := c.now().UTC()
	expiresAt := now.Add(c.accessTTL)
	claims := AccessClaims{
		Email:     email,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// SignRefresh issues a long-lived refresh token bound to a session.
func (c *TokenCodec) SignRefresh(userID, sessionID string) (string, time.Time, error) {
	now := c.now().UTC()
	expiresAt := now.Add(c.refreshTTL)
	claims := RefreshClaims{
		SessionID: sessionID,
		Kind:      refreshKind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccess checks signature, issuer, audience and expiry of an access
// token. It never consults the session store.
func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Kind != "" || claims.SessionID == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh checks signature, issuer, audience, expiry and kind of a
// refresh token.
func (c *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Kind != refreshKind || claims.SessionID == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidToken
			}
			return c.secret, nil
		},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// TokenHash returns the deterministic digest used as the session store
// lookup key. Correlation only, not password-grade secrecy.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExpiryFrom converts a lifetime expression such as "15m" or "7d" into an
// absolute timestamp from now. The "d" unit is handled explicitly since
// time.ParseDuration stops at hours.
func ExpiryFrom(spec string, from time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("%w: empty spec", ErrInvalidDuration)
	}
	if strings.HasSuffix(spec, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(spec, "d"))
		if err != nil || days <= 0 {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDuration, spec)
		}
		return from.Add(time.Duration(days) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDuration, spec)
	}
	return from.Add(d), nil
}
