package auth

import (
	"context"
	"log/slog"
	"time"
)

// Guard defaults. Lockout triggers on the fifth consecutive failure and is
// never re-extended while already in force.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutCooldown  = 30 * time.Minute
)

// Guard tracks failed logins and computes lockout windows on top of the
// atomic counter updates the repository provides.
type Guard struct {
	repo      Repository
	logger    *slog.Logger
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewGuard constructs a Guard. Zero threshold or cooldown fall back to the
// defaults.
func NewGuard(repo Repository, logger *slog.Logger, threshold int, cooldown time.Duration) *Guard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultLockoutCooldown
	}
	return &Guard{repo: repo, logger: logger, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// IsLocked reports whether the loaded user is inside a lockout window.
func (g *Guard) IsLocked(user *User) bool {
	return user != nil && user.LockedUntil != nil && user.LockedUntil.After(g.now())
}

// RecordFailure bumps the failure counter and reports whether this failure
// triggered a lockout.
func (g *Guard) RecordFailure(ctx context.Context, userID string) (bool, error) {
	attempts, lockedUntil, err := g.repo.RecordLoginFailure(ctx, userID, g.threshold, g.cooldown)
	if err != nil {
		return false, err
	}
	locked := attempts == g.threshold && lockedUntil != nil
	if locked {
		g.logger.Warn("account locked after failed logins",
			slog.String("user_id", userID),
			slog.Int("attempts", attempts),
			slog.Time("locked_until", *lockedUntil))
	}
	return locked, nil
}

// RecordSuccess clears failure state and stamps last-login metadata.
func (g *Guard) RecordSuccess(ctx context.Context, userID, ip string) error {
	return g.repo.RecordLoginSuccess(ctx, userID, ip)
}

// Unlock is the administrative escape hatch: it resets attempts and clears
// the lock regardless of the window.
func (g *Guard) Unlock(ctx context.Context, userID string) error {
	return g.repo.UnlockUser(ctx, userID)
}
