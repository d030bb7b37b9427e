package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-sms/meridian-sms/internal/platform/db"
)

// Repository defines persistence operations for the auth core.
type Repository interface {
	CreateUserWithProfile(ctx context.Context, user *User, profile *Profile) error
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindProfile(ctx context.Context, userID string) (*Profile, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	RecordLoginSuccess(ctx context.Context, userID, ip string) error
	RecordLoginFailure(ctx context.Context, userID string, threshold int, cooldown time.Duration) (int, *time.Time, error)
	UnlockUser(ctx context.Context, userID string) error

	CreateSession(ctx context.Context, sess *Session) error
	FindSessionByID(ctx context.Context, id string) (*Session, error)
	FindLiveSessionByTokenHash(ctx context.Context, hash string) (*Session, error)
	FindLiveSessionByRefreshHash(ctx context.Context, hash string) (*Session, error)
	ListSessionsForUser(ctx context.Context, userID string) ([]Session, error)
	RevokeSession(ctx context.Context, id, reason, revokedBy string) (bool, error)
	RevokeSessionByTokenHash(ctx context.Context, tokenHash, reason, revokedBy string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason, revokedBy, excludeSessionID string) (int64, error)
	TouchSessionActivity(ctx context.Context, id string) error
	SweepExpiredSessions(ctx context.Context) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, role, status, email_verified,
	last_login_at, last_login_ip, failed_login_attempts, locked_until,
	password_changed_at, created_at, updated_at, deleted_at`

const sessionColumns = `id, user_id, token_hash, refresh_token_hash, device_info,
	ip_address, user_agent, is_active, expires_at, refresh_expires_at,
	last_activity_at, revoked_at, revoked_by, revoke_reason, created_at`

// CreateUserWithProfile inserts the user and its profile in one transaction.
// A duplicate email among non-deleted users surfaces as ErrEmailTaken.
func (r *PGRepository) CreateUserWithProfile(ctx context.Context, user *User, profile *Profile) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO users (id, email, password_hash, role, status, email_verified, created_at, updated_at)
			VALUES ($1, lower($2), $3, $4, $5, $6, now(), now())`,
			user.ID, user.Email, user.PasswordHash, user.Role, user.Status, user.EmailVerified)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO profiles (id, user_id, first_name, last_name, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())`,
			profile.ID, profile.UserID, profile.FirstName, profile.LastName, profile.Phone)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// FindUserByEmail fetches a non-deleted user by case-insensitive email.
func (r *PGRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1) AND deleted_at IS NULL`, email)
	return scanUser(row)
}

// FindUserByID fetches a non-deleted user by id.
func (r *PGRepository) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanUser(row)
}

// FindProfile fetches the profile owned by userID.
func (r *PGRepository) FindProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, first_name, last_name, COALESCE(phone, ''), created_at, updated_at
		FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdatePassword replaces the credential hash and stamps the change time.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, password_changed_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginSuccess resets the failure counter, clears any lock and stamps
// the login audit columns.
func (r *PGRepository) RecordLoginSuccess(ctx context.Context, userID, ip string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET failed_login_attempts = 0, locked_until = NULL,
		last_login_at = now(), last_login_ip = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, userID, ip)
	return err
}

// RecordLoginFailure increments the failure counter and, exactly when the
// incremented count reaches the threshold, sets the lock window. The single
// UPDATE keeps increment-and-compare atomic under concurrent failures; a
// lock already in force is never re-extended.
func (r *PGRepository) RecordLoginFailure(ctx context.Context, userID string, threshold int, cooldown time.Duration) (int, *time.Time, error) {
	var attempts int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, `UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE WHEN failed_login_attempts + 1 = $2 THEN now() + $3 ELSE locked_until END,
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING failed_login_attempts, locked_until`,
		userID, threshold, cooldown).
		Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	return attempts, lockedUntil, nil
}

// UnlockUser clears lockout state unconditionally.
func (r *PGRepository) UnlockUser(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession persists a new session record.
func (r *PGRepository) CreateSession(ctx context.Context, sess *Session) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (id, user_id, token_hash, refresh_token_hash, device_info,
			ip_address, user_agent, is_active, expires_at, refresh_expires_at, last_activity_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, now(), now())`,
		sess.ID, sess.UserID, sess.TokenHash, sess.RefreshTokenHash, sess.DeviceInfo,
		sess.IPAddress, sess.UserAgent, sess.IsActive, sess.ExpiresAt, sess.RefreshExpiresAt)
	return err
}

// FindSessionByID fetches a session regardless of liveness.
func (r *PGRepository) FindSessionByID(ctx context.Context, id string) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// FindLiveSessionByTokenHash returns the session for an access-token digest
// only while it satisfies the liveness invariant.
func (r *PGRepository) FindLiveSessionByTokenHash(ctx context.Context, hash string) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE token_hash = $1 AND is_active AND revoked_at IS NULL AND expires_at > now()`, hash)
	return scanSession(row)
}

// FindLiveSessionByRefreshHash returns the live session for a refresh-token digest.
func (r *PGRepository) FindLiveSessionByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = $1 AND is_active AND revoked_at IS NULL
		  AND (refresh_expires_at IS NULL OR refresh_expires_at > now())`, hash)
	return scanSession(row)
}

// ListSessionsForUser returns the user's sessions, newest first.
func (r *PGRepository) ListSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// RevokeSession marks one session revoked. Revoking an already-revoked
// session is a no-op reported as false.
func (r *PGRepository) RevokeSession(ctx context.Context, id, reason, revokedBy string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = false, revoked_at = now(),
			revoke_reason = $2, revoked_by = NULLIF($3, '')
		WHERE id = $1 AND revoked_at IS NULL`, id, reason, revokedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeSessionByTokenHash revokes the session backing an access-token
// digest. Idempotent in the same way as RevokeSession.
func (r *PGRepository) RevokeSessionByTokenHash(ctx context.Context, tokenHash, reason, revokedBy string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = false, revoked_at = now(),
			revoke_reason = $2, revoked_by = NULLIF($3, '')
		WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash, reason, revokedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllForUser revokes every unrevoked session owned by userID except
// excludeSessionID (empty means none excluded) and returns the count.
func (r *PGRepository) RevokeAllForUser(ctx context.Context, userID, reason, revokedBy, excludeSessionID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = false, revoked_at = now(),
			revoke_reason = $2, revoked_by = NULLIF($3, '')
		WHERE user_id = $1 AND revoked_at IS NULL AND ($4 = '' OR id <> $4)`,
		userID, reason, revokedBy, excludeSessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TouchSessionActivity stamps last_activity_at.
func (r *PGRepository) TouchSessionActivity(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_activity_at = now() WHERE id = $1`, id)
	return err
}

// SweepExpiredSessions bulk-revokes sessions past expiry that were never
// explicitly revoked.
func (r *PGRepository) SweepExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = false, revoked_at = now(), revoke_reason = $1
		WHERE revoked_at IS NULL AND expires_at <= now()
		  AND (refresh_expires_at IS NULL OR refresh_expires_at <= now())`, RevokeReasonExpired)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var lastLoginIP *string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.EmailVerified,
		&u.LastLoginAt, &lastLoginIP, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLoginIP != nil {
		u.LastLoginIP = *lastLoginIP
	}
	return &u, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var refreshHash, revokedBy, revokeReason *string
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &refreshHash, &s.DeviceInfo,
		&s.IPAddress, &s.UserAgent, &s.IsActive, &s.ExpiresAt, &s.RefreshExpiresAt,
		&s.LastActivityAt, &s.RevokedAt, &revokedBy, &revokeReason, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if refreshHash != nil {
		s.RefreshTokenHash = *refreshHash
	}
	if revokedBy != nil {
		s.RevokedBy = *revokedBy
	}
	if revokeReason != nil {
		s.RevokeReason = *revokeReason
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
