package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is tuned so a single hash stays in the ~100ms range on the
// deployment hardware.
const BcryptCost = 12

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored bcrypt hash.
// A mismatch is reported as (false, nil); an error is returned only for a
// malformed hash.
func VerifyPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("verify password: %w", err)
}

const minPasswordLength = 8

// ValidatePasswordStrength returns every violated rule, not just the first.
// An empty slice means the password is acceptable.
func ValidatePasswordStrength(password string) []string {
	var violations []string
	if len(password) < minPasswordLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !digit {
		violations = append(violations, "must contain a digit")
	}
	if !symbol {
		violations = append(violations, "must contain a symbol")
	}
	return violations
}
