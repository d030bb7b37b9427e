package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	throttle  *Throttle
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, throttle *Throttle) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		throttle:  throttle,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router, mw *Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAuth)
			r.Post("/logout", h.handleLogout)
			r.Post("/logout-all", h.handleLogoutAll)
			r.Post("/change-password", h.handleChangePassword)
			r.Get("/me", h.handleMe)
			r.Get("/sessions", h.handleSessions)
			r.Delete("/sessions/{sessionID}", h.handleRevokeSession)
		})
	})

	r.With(mw.RequireAuth, mw.Authorize(RoleAdmin)).
		Post("/users/{userID}/unlock", h.handleUnlock)
}

type registerRequest struct {
	Email      string         `json:"email" validate:"required,email"`
	Password   string         `json:"password" validate:"required"`
	Role       Role           `json:"role" validate:"required"`
	FirstName  string         `json:"first_name" validate:"required"`
	LastName   string         `json:"last_name" validate:"required"`
	Phone      string         `json:"phone"`
	DeviceInfo map[string]any `json:"device_info"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	rc := requestContext(r, req.DeviceInfo)
	if !h.throttle.Allow(r.Context(), "register", rc.IPAddress) {
		httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "try again later")
		return
	}
	result, err := h.service.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, rc)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type loginRequest struct {
	Email      string         `json:"email" validate:"required,email"`
	Password   string         `json:"password" validate:"required"`
	DeviceInfo map[string]any `json:"device_info"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	rc := requestContext(r, req.DeviceInfo)
	if !h.throttle.Allow(r.Context(), "login", rc.IPAddress) {
		httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "try again later")
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password, rc)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	rc := requestContext(r, nil)
	if !h.throttle.Allow(r.Context(), "refresh", rc.IPAddress) {
		httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "try again later")
		return
	}
	result, err := h.service.Refresh(r.Context(), req.RefreshToken, rc)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	token, ok := extractBearerToken(r.Header.Get(authorizationHeader))
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Authentication Required", "")
		return
	}
	revoked, err := h.service.Logout(r.Context(), TokenHash(token), identity.UserID, requestContext(r, nil))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	keep := r.URL.Query().Get("keep_current")
	keepSessionID := ""
	if keep == "true" || keep == "1" {
		keepSessionID = identity.SessionID
	}
	count, err := h.service.LogoutAll(r.Context(), identity.UserID, keepSessionID, requestContext(r, nil))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions_revoked": count})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	identity, _ := IdentityFromContext(r.Context())
	err := h.service.ChangePassword(r.Context(), identity.UserID, req.CurrentPassword, req.NewPassword, requestContext(r, nil))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changed": true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	profile, err := h.service.Profile(r.Context(), identity.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":         identity.UserID,
		"email":      identity.Email,
		"role":       identity.Role,
		"session_id": identity.SessionID,
		"profile":    profile,
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	sessions, err := h.service.Sessions(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	sessions, err := h.service.Sessions(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	owned := identity.Role == RoleAdmin
	for _, sess := range sessions {
		if sess.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "not the resource owner")
		return
	}

	revoked, err := h.service.RevokeSession(r.Context(), sessionID, identity.UserID, requestContext(r, nil))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	targetID := chi.URLParam(r, "userID")
	if err := h.service.Unlock(r.Context(), targetID, identity.UserID, requestContext(r, nil)); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"unlocked": true})
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", "malformed JSON")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		fields := map[string]any{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", "", fields)
		return false
	}
	return true
}

// respondError maps auth domain errors onto status codes. Infrastructure
// detail is never echoed to the client.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var weak *WeakPasswordError
	switch {
	case errors.As(err, &weak):
		httpx.ProblemWith(w, http.StatusBadRequest, "Weak Password", "",
			map[string]any{"violations": weak.Violations})
	case errors.Is(err, ErrInvalidRole):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Role", "")
	case errors.Is(err, ErrEmailTaken):
		httpx.Problem(w, http.StatusConflict, "Email Taken", "email already registered")
	case errors.Is(err, ErrAccountLocked):
		httpx.Problem(w, http.StatusLocked, "Account Locked", "account temporarily locked, try again later")
	case errors.Is(err, ErrAccountSuspended),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccountNotActive):
		httpx.Problem(w, http.StatusForbidden, "Account Not Active", "")
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrInvalidCurrentPassword):
		httpx.Problem(w, http.StatusUnauthorized, "Authentication Failed", "")
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	default:
		h.logger.Error("auth request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func requestContext(r *http.Request, deviceInfo map[string]any) RequestContext {
	return RequestContext{
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		DeviceInfo: deviceInfo,
	}
}
