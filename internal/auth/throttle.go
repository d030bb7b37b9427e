package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle rate-limits credential-guessing surfaces per client IP using
// redis counters. It fails open: when redis is unreachable the request is
// allowed and the outage logged, so the auth path never depends on the
// limiter's availability.
type Throttle struct {
	redis  *redis.Client
	logger *slog.Logger
	max    int
	window time.Duration
}

// NewThrottle constructs a Throttle allowing max attempts per window.
func NewThrottle(client *redis.Client, logger *slog.Logger, max int, window time.Duration) *Throttle {
	return &Throttle{redis: client, logger: logger, max: max, window: window}
}

// Allow reports whether another attempt from ip is permitted for the given
// scope ("login", "register", ...).
func (t *Throttle) Allow(ctx context.Context, scope, ip string) bool {
	if t == nil || t.redis == nil || ip == "" {
		return true
	}
	key := "authrl:" + scope + ":" + ip
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		t.logger.Warn("auth throttle unavailable", slog.String("scope", scope), slog.Any("error", err))
		return true
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			t.logger.Warn("auth throttle expire", slog.String("scope", scope), slog.Any("error", err))
		}
	}
	return count <= int64(t.max)
}
