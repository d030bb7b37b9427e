package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-sms/meridian-sms/internal/app"
	"github.com/meridian-sms/meridian-sms/internal/audit"
	"github.com/meridian-sms/meridian-sms/internal/auth"
	"github.com/meridian-sms/meridian-sms/internal/observability"
	_ "github.com/meridian-sms/meridian-sms/testing"
)

// memStore is an in-memory auth.Repository for wiring the full router
// without PostgreSQL.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	byEmail  map[string]*auth.User
	profiles map[string]*auth.Profile
	sessions map[string]*auth.Session
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*auth.User),
		byEmail:  make(map[string]*auth.User),
		profiles: make(map[string]*auth.Profile),
		sessions: make(map[string]*auth.Session),
	}
}

func (m *memStore) CreateUserWithProfile(ctx context.Context, user *auth.User, profile *auth.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[user.Email]; exists {
		return auth.ErrEmailTaken
	}
	u := *user
	m.users[u.ID] = &u
	m.byEmail[u.Email] = &u
	p := *profile
	m.profiles[u.ID] = &p
	return nil
}

func (m *memStore) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[email]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) FindProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memStore) RecordLoginSuccess(ctx context.Context, userID, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (m *memStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, cooldown time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, nil, auth.ErrNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts == threshold {
		until := time.Now().Add(cooldown)
		u.LockedUntil = &until
	}
	return u.FailedLoginAttempts, u.LockedUntil, nil
}

func (m *memStore) UnlockUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (m *memStore) CreateSession(ctx context.Context, sess *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *sess
	m.sessions[clone.ID] = &clone
	return nil
}

func (m *memStore) FindSessionByID(ctx context.Context, id string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) FindLiveSessionByTokenHash(ctx context.Context, hash string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == hash && s.Live(time.Now()) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) FindLiveSessionByRefreshHash(ctx context.Context, hash string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == hash && s.IsActive && s.RevokedAt == nil &&
			s.RefreshExpiresAt != nil && s.RefreshExpiresAt.After(time.Now()) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) ListSessionsForUser(ctx context.Context, userID string) ([]auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) RevokeSession(ctx context.Context, id, reason, revokedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	revoke(s, reason, revokedBy)
	return true, nil
}

func (m *memStore) RevokeSessionByTokenHash(ctx context.Context, tokenHash, reason, revokedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == tokenHash && s.RevokedAt == nil {
			revoke(s, reason, revokedBy)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RevokeAllForUser(ctx context.Context, userID, reason, revokedBy, excludeSessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil && s.ID != excludeSessionID {
			revoke(s, reason, revokedBy)
			count++
		}
	}
	return count, nil
}

func (m *memStore) TouchSessionActivity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivityAt = time.Now()
	}
	return nil
}

func (m *memStore) SweepExpiredSessions(ctx context.Context) (int64, error) {
	return 0, nil
}

func revoke(s *auth.Session, reason, revokedBy string) {
	now := time.Now()
	s.IsActive = false
	s.RevokedAt = &now
	s.RevokeReason = reason
	s.RevokedBy = revokedBy
}

// memTrail is an in-memory audit.Repository.
type memTrail struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memTrail) Insert(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memTrail) Query(ctx context.Context, f audit.Filters, limit, offset int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	return append([]audit.Entry(nil), m.entries[offset:end]...), nil
}

func (m *memTrail) Aggregate(ctx context.Context, f audit.Filters) (*audit.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &audit.Stats{ByAction: map[string]int64{}, ByEntityType: map[string]int64{}}
	for _, e := range m.entries {
		stats.Total++
		if !e.Success {
			stats.Failed++
		}
		stats.ByAction[e.Action]++
	}
	return stats, nil
}

func (m *memTrail) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	metrics := observability.NewMetrics()
	store := newMemStore()
	trail := &memTrail{}

	auditWriter := audit.NewWriter(trail, logger, metrics)
	auditService := audit.NewService(trail)
	auditHandler := audit.NewHandler(logger, auditService)

	codec := auth.NewTokenCodec("e2e-secret-0123456789-0123456789!", 15*time.Minute, 7*24*time.Hour)
	guard := auth.NewGuard(store, logger, 5, 30*time.Minute)
	authService := auth.NewService(store, codec, guard, auditWriter, metrics, logger)
	throttle := auth.NewThrottle(redisClient, logger, 50, time.Minute)
	authHandler := auth.NewHandler(logger, authService, throttle)
	authMiddleware := auth.NewMiddleware(authService)

	return app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         &app.Config{},
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		AuditHandler:   auditHandler,
		Metrics:        metrics,
		Redis:          redisClient,
	})
}

func postJSON(t *testing.T, server http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	return request(t, server, http.MethodPost, path, token, body)
}

func request(t *testing.T, server http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	return res
}

func parse(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func TestFullAuthLifecycle(t *testing.T) {
	server := newTestServer(t)

	res := request(t, server, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, res.Code)

	// Register an admin; the first token pair arrives with the account.
	res = postJSON(t, server, "/api/v1/auth/register", "",
		`{"email":"head@school.edu","password":"Adm1n!strong","role":"admin","first_name":"Head","last_name":"Master"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	reg := parse(t, res)
	adminToken := reg["access_token"].(string)
	refreshToken := reg["refresh_token"].(string)

	// Authenticated profile fetch through the whole middleware stack.
	res = request(t, server, http.MethodGet, "/api/v1/auth/me", adminToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "head@school.edu", parse(t, res)["email"])

	// Second login yields an independent session.
	res = postJSON(t, server, "/api/v1/auth/login", "",
		`{"email":"head@school.edu","password":"Adm1n!strong"}`)
	require.Equal(t, http.StatusOK, res.Code)
	loginToken := parse(t, res)["access_token"].(string)
	require.NotEqual(t, adminToken, loginToken)

	// Refresh keeps the refresh token but rotates the access token. The
	// account must be active first; registration leaves it pending.
	res = postJSON(t, server, "/api/v1/auth/refresh", "",
		`{"refresh_token":"`+refreshToken+`"}`)
	require.Equal(t, http.StatusForbidden, res.Code)

	// The admin audit surface shows the trail so far.
	res = request(t, server, http.MethodGet, "/api/v1/audit/logs", loginToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	logs := parse(t, res)
	assert.NotEmpty(t, logs["entries"])

	res = request(t, server, http.MethodGet, "/api/v1/audit/stats", loginToken, "")
	require.Equal(t, http.StatusOK, res.Code)

	// Logout kills the registration session; the login session survives.
	res = postJSON(t, server, "/api/v1/auth/logout", adminToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	res = request(t, server, http.MethodGet, "/api/v1/auth/me", adminToken, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	res = request(t, server, http.MethodGet, "/api/v1/auth/me", loginToken, "")
	assert.Equal(t, http.StatusOK, res.Code)

	// Metrics endpoint exposes the counters the flow just moved.
	res = request(t, server, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "meridian_logins_total")
	assert.Contains(t, res.Body.String(), "meridian_sessions_revoked_total")
}

func TestAuditSurfaceRequiresAdminRole(t *testing.T) {
	server := newTestServer(t)

	res := postJSON(t, server, "/api/v1/auth/register", "",
		`{"email":"kid@school.edu","password":"Stud3nt!pass","role":"student","first_name":"K","last_name":"D"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	studentToken := parse(t, res)["access_token"].(string)

	res = request(t, server, http.MethodGet, "/api/v1/audit/logs", studentToken, "")
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = request(t, server, http.MethodGet, "/api/v1/audit/logs", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}
