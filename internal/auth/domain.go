package auth

import "time"

// Role enumerates the account roles known to the platform.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleCoordinator      Role = "coordinator"
	RoleTeacher          Role = "teacher"
	RoleStudent          Role = "student"
	RoleParent           Role = "parent"
	RoleLibrarian        Role = "librarian"
	RoleMediaCoordinator Role = "media_coordinator"
)

var allRoles = map[Role]struct{}{
	RoleAdmin:            {},
	RoleCoordinator:      {},
	RoleTeacher:          {},
	RoleStudent:          {},
	RoleParent:           {},
	RoleLibrarian:        {},
	RoleMediaCoordinator: {},
}

// Valid reports whether the role is one of the enumerated values.
func (r Role) Valid() bool {
	_, ok := allRoles[r]
	return ok
}

// Status enumerates user account lifecycle states.
type Status string

const (
	StatusActive              Status = "active"
	StatusInactive            Status = "inactive"
	StatusSuspended           Status = "suspended"
	StatusPendingVerification Status = "pending_verification"
)

// User represents an account credential record. PasswordHash is never
// serialized to API responses.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                Role       `json:"role"`
	Status              Status     `json:"status"`
	EmailVerified       bool       `json:"email_verified"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP         string     `json:"last_login_ip,omitempty"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	PasswordChangedAt   *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"-"`
}

// Profile carries person-identifying attributes, 1:1 with User.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revocation reasons recorded on sessions.
const (
	RevokeReasonLogout         = "logout"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonTokenRefresh   = "token_refresh"
	RevokeReasonExpired        = "expired"
	RevokeReasonUserRevoked    = "user_revoked"
)

// Session is the server-side record backing one issued token pair. Tokens
// are stored only as digests, never raw.
type Session struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	TokenHash        string         `json:"-"`
	RefreshTokenHash string         `json:"-"`
	DeviceInfo       map[string]any `json:"device_info,omitempty"`
	IPAddress        string         `json:"ip_address,omitempty"`
	UserAgent        string         `json:"user_agent,omitempty"`
	IsActive         bool           `json:"is_active"`
	ExpiresAt        time.Time      `json:"expires_at"`
	RefreshExpiresAt *time.Time     `json:"refresh_expires_at,omitempty"`
	LastActivityAt   time.Time      `json:"last_activity_at"`
	RevokedAt        *time.Time     `json:"revoked_at,omitempty"`
	RevokedBy        string         `json:"revoked_by,omitempty"`
	RevokeReason     string         `json:"revoke_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Live reports whether the session is active, unrevoked and unexpired.
func (s *Session) Live(now time.Time) bool {
	return s != nil && s.IsActive && s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// RequestContext carries per-request client metadata into auth operations.
type RequestContext struct {
	IPAddress  string
	UserAgent  string
	DeviceInfo map[string]any
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	User         *User     `json:"user"`
	Profile      *Profile  `json:"profile,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Verified is the outcome of a successful access-token verification.
type Verified struct {
	User      *User
	SessionID string
}
