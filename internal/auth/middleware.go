package auth

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
)

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "bearer"
)

// Middleware performs per-request token verification and role or ownership
// authorization.
type Middleware struct {
	service *Service
}

// NewMiddleware constructs the request-authentication middleware.
func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// RequireAuth rejects requests without a verifiable bearer token. On
// success the identity is attached to the request context. Failure detail
// is never echoed to the client.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authorizationHeader))
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Authentication Required", "missing bearer token")
			return
		}
		verified, err := m.service.VerifyAccessToken(r.Context(), token)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Authentication Failed", "")
			return
		}
		ctx := ContextWithIdentity(r.Context(), Identity{
			UserID:    verified.User.ID,
			Email:     verified.User.Email,
			Role:      verified.User.Role,
			SessionID: verified.SessionID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the identity when a valid token is present and
// leaves the context unauthenticated otherwise, for endpoints with mixed
// public and private behavior.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authorizationHeader))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		verified, err := m.service.VerifyAccessToken(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithIdentity(r.Context(), Identity{
			UserID:    verified.User.ID,
			Email:     verified.User.Email,
			Role:      verified.User.Role,
			SessionID: verified.SessionID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize allows only the listed roles past. It must run after
// RequireAuth.
func (m *Middleware) Authorize(allowed ...Role) func(http.Handler) http.Handler {
	allowList := make(map[Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowList[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Authentication Required", "")
				return
			}
			if _, ok := allowList[identity.Role]; !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnership allows the request only when the authenticated user id
// matches the named URL parameter. Admins always pass.
func (m *Middleware) RequireOwnership(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Authentication Required", "")
				return
			}
			if identity.Role != RoleAdmin && chi.URLParam(r, param) != identity.UserID {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "not the resource owner")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken parses an Authorization header. A malformed header
// (wrong scheme, wrong part count) is treated identically to an absent one.
func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerScheme) {
		return "", false
	}
	return parts[1], true
}
