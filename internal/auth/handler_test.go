package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, throttleMax int) (*chi.Mux, *Service) {
	t.Helper()
	repo := newMockRepo()
	svc, _ := newTestService(repo)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	throttle := NewThrottle(client, testLogger(), throttleMax, time.Minute)

	handler := NewHandler(testLogger(), svc, throttle)
	r := chi.NewRouter()
	handler.MountRoutes(r, NewMiddleware(svc))
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	return body
}

const registerBody = `{"email":"h@example.com","password":"Str0ng!pass","role":"teacher","first_name":"H","last_name":"T"}`

func TestRegisterEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, 100)

	res := doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)
	require.Equal(t, http.StatusCreated, res.Code)

	body := decodeBody(t, res)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "h@example.com", user["email"])
	// The hash never leaves the server.
	assert.NotContains(t, res.Body.String(), "password_hash")
	assert.NotContains(t, res.Body.String(), "$2a$")

	// Same email again conflicts.
	res = doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRouter(t, 100)

	res := doJSON(t, r, http.MethodPost, "/auth/register", "", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Header().Get("Content-Type"), "application/problem+json")

	res = doJSON(t, r, http.MethodPost, "/auth/register", "", `{broken`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, r, http.MethodPost, "/auth/register", "",
		`{"email":"w@example.com","password":"weak","role":"teacher","first_name":"W","last_name":"T"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, "Weak Password", body["title"])
	assert.NotEmpty(t, body["violations"])
}

func TestLoginEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, 100)
	doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)

	res := doJSON(t, r, http.MethodPost, "/auth/login", "",
		`{"email":"h@example.com","password":"Str0ng!pass"}`)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	assert.NotEmpty(t, body["access_token"])

	res = doJSON(t, r, http.MethodPost, "/auth/login", "",
		`{"email":"h@example.com","password":"wrong-pass!"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	body = decodeBody(t, res)
	// Wrong password and unknown email share one response shape.
	assert.Equal(t, "Authentication Failed", body["title"])

	res = doJSON(t, r, http.MethodPost, "/auth/login", "",
		`{"email":"nobody@example.com","password":"wrong-pass!"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Authentication Failed", decodeBody(t, res)["title"])
}

func TestLoginThrottled(t *testing.T) {
	r, _ := newTestRouter(t, 2)

	for i := 0; i < 2; i++ {
		res := doJSON(t, r, http.MethodPost, "/auth/login", "",
			`{"email":"x@example.com","password":"whatever1!"}`)
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	}
	res := doJSON(t, r, http.MethodPost, "/auth/login", "",
		`{"email":"x@example.com","password":"whatever1!"}`)
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestLockedAccountReturns423(t *testing.T) {
	r, _ := newTestRouter(t, 100)
	doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)

	for i := 0; i < DefaultLockoutThreshold; i++ {
		doJSON(t, r, http.MethodPost, "/auth/login", "",
			`{"email":"h@example.com","password":"wrong-pass!"}`)
	}
	res := doJSON(t, r, http.MethodPost, "/auth/login", "",
		`{"email":"h@example.com","password":"Str0ng!pass"}`)
	assert.Equal(t, http.StatusLocked, res.Code)
}

func TestAuthenticatedEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, 100)
	res := doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)
	require.Equal(t, http.StatusCreated, res.Code)
	reg := decodeBody(t, res)
	token, _ := reg["access_token"].(string)
	require.NotEmpty(t, token)

	t.Run("me", func(t *testing.T) {
		res := doJSON(t, r, http.MethodGet, "/auth/me", token, "")
		require.Equal(t, http.StatusOK, res.Code)
		body := decodeBody(t, res)
		assert.Equal(t, "h@example.com", body["email"])
		assert.NotNil(t, body["profile"])
	})

	t.Run("sessions list", func(t *testing.T) {
		res := doJSON(t, r, http.MethodGet, "/auth/sessions", token, "")
		require.Equal(t, http.StatusOK, res.Code)
		body := decodeBody(t, res)
		sessions, ok := body["sessions"].([]any)
		require.True(t, ok)
		assert.Len(t, sessions, 1)
	})

	t.Run("requires token", func(t *testing.T) {
		res := doJSON(t, r, http.MethodGet, "/auth/me", "", "")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})

	t.Run("logout then reuse", func(t *testing.T) {
		res := doJSON(t, r, http.MethodPost, "/auth/logout", token, "")
		require.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, true, decodeBody(t, res)["revoked"])

		res = doJSON(t, r, http.MethodGet, "/auth/me", token, "")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})
}

func TestRefreshEndpoint(t *testing.T) {
	r, svc := newTestRouter(t, 100)
	res := doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)
	require.Equal(t, http.StatusCreated, res.Code)
	reg := decodeBody(t, res)
	refreshToken, _ := reg["refresh_token"].(string)
	userID := reg["user"].(map[string]any)["id"].(string)

	// Refresh requires an established account.
	res = doJSON(t, r, http.MethodPost, "/auth/refresh", "",
		`{"refresh_token":"`+refreshToken+`"}`)
	assert.Equal(t, http.StatusForbidden, res.Code)

	svc.repo.(*mockRepo).setStatus(userID, StatusActive)
	res = doJSON(t, r, http.MethodPost, "/auth/refresh", "",
		`{"refresh_token":"`+refreshToken+`"}`)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, refreshToken, body["refresh_token"])
	assert.NotEmpty(t, body["access_token"])

	res = doJSON(t, r, http.MethodPost, "/auth/refresh", "", `{"refresh_token":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestUnlockRequiresAdmin(t *testing.T) {
	r, _ := newTestRouter(t, 100)
	res := doJSON(t, r, http.MethodPost, "/auth/register", "", registerBody)
	require.Equal(t, http.StatusCreated, res.Code)
	teacherToken := decodeBody(t, res)["access_token"].(string)

	res = doJSON(t, r, http.MethodPost, "/auth/register", "",
		`{"email":"root@example.com","password":"Str0ng!pass","role":"admin","first_name":"R","last_name":"A"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	admin := decodeBody(t, res)
	adminToken := admin["access_token"].(string)
	targetID := admin["user"].(map[string]any)["id"].(string)

	res = doJSON(t, r, http.MethodPost, "/users/"+targetID+"/unlock", teacherToken, "")
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, r, http.MethodPost, "/users/"+targetID+"/unlock", adminToken, "")
	assert.Equal(t, http.StatusOK, res.Code)

	res = doJSON(t, r, http.MethodPost, "/users/no-such-user/unlock", adminToken, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}
