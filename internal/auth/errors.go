package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the auth domain. The HTTP layer maps them onto
// status codes; messages stay deliberately generic where credential
// guessing is a concern.
var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates structural or cryptographic token failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSessionNotFound indicates the backing session is revoked, expired
	// or was never issued.
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrRefreshTokenExpired indicates the refresh token has no live session.
	ErrRefreshTokenExpired = errors.New("refresh token expired or unknown")
	// ErrAccountLocked indicates a temporary lockout after failed logins.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrAccountSuspended indicates a suspended account.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountInactive indicates a deactivated account.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountNotActive indicates the account status forbids the operation.
	ErrAccountNotActive = errors.New("account not active")
	// ErrInvalidCurrentPassword indicates a failed current-password check.
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword is the kind matched by WeakPasswordError.
	ErrWeakPassword = errors.New("password does not meet strength requirements")
	// ErrInvalidRole indicates a role outside the closed set.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidDuration indicates an unparseable lifetime expression.
	ErrInvalidDuration = errors.New("invalid duration format")
	// ErrNotFound indicates a missing user or session record.
	ErrNotFound = errors.New("not found")
	// ErrInfrastructure wraps datastore, hashing and signing failures so
	// they are never mistaken for credential errors.
	ErrInfrastructure = errors.New("auth infrastructure failure")
)

// WeakPasswordError carries the full list of violated strength rules.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	return "weak password: " + strings.Join(e.Violations, "; ")
}

// Is makes the error match ErrWeakPassword in errors.Is chains.
func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}

// infraErr tags err as an infrastructure failure while preserving the cause.
func infraErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
