package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/service"
)

// =============================================================================
// Response Types
// =============================================================================

// UserResponse is the public shape of a dashboard user.
type UserResponse struct {
	ID              string `json:"id"`
	OrganizationID  string `json:"organization_id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	IsPlatformAdmin bool   `json:"is_platform_admin"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// AuthHandler handles registration, login, and session management.
type AuthHandler struct {
	users    service.UserService
	logger   *slog.Logger
	isSecure bool

	setCookie   func(w http.ResponseWriter, token string, isSecure bool)
	clearCookie func(w http.ResponseWriter, isSecure bool)
}

// NewAuthHandler creates a new AuthHandler.
//
// The cookie functions are injected so the handler package does not import
// middleware (which imports handler for error responses).
func NewAuthHandler(
	users service.UserService,
	logger *slog.Logger,
	isSecure bool,
	setCookie func(w http.ResponseWriter, token string, isSecure bool),
	clearCookie func(w http.ResponseWriter, isSecure bool),
) *AuthHandler {
	return &AuthHandler{
		users:       users,
		logger:      logger,
		isSecure:    isSecure,
		setCookie:   setCookie,
		clearCookie: clearCookie,
	}
}

// RegisterRoutes registers the auth routes.
//
// Routes:
//   - POST /api/v1/auth/register       -> Register
//   - POST /api/v1/auth/login          -> Login
//   - POST /api/v1/auth/logout         -> Logout
//   - GET  /api/v1/auth/me             -> Me (requires WithUser)
//   - POST /api/v1/auth/verify-email   -> VerifyEmail
//   - POST /api/v1/auth/password-reset -> RequestPasswordReset
//   - PUT  /api/v1/auth/password-reset -> ResetPassword
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, withUser, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/auth/register", http.HandlerFunc(h.Register))
	mux.Handle("POST /api/v1/auth/login", http.HandlerFunc(h.Login))
	mux.Handle("POST /api/v1/auth/logout", withUser(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /api/v1/auth/me", withUser(requireUser(http.HandlerFunc(h.Me))))
	mux.Handle("POST /api/v1/auth/verify-email", http.HandlerFunc(h.VerifyEmail))
	mux.Handle("POST /api/v1/auth/password-reset", http.HandlerFunc(h.RequestPasswordReset))
	mux.Handle("PUT /api/v1/auth/password-reset", http.HandlerFunc(h.ResetPassword))
}

// =============================================================================
// Handlers
// =============================================================================

// Register creates a new dashboard user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organization_id"`
		Email          string `json:"email"`
		Password       string `json:"password"`
		Name           string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return
	}

	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		badRequest(w, r, h.logger, "Invalid organization ID")
		return
	}

	user, err := h.users.Register(r.Context(), domain.RegisterParams{
		OrganizationID: orgID,
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, userResponse(user))
}

// Login authenticates a user and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body")
		return
	}

	result, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.setCookie(w, result.Token, h.isSecure)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":  userResponse(result.User),
		"token": result.Token,
	})
}

// Logout invalidates the current session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("parlor_session"); err == nil && cookie.Value != "" {
		if err := h.users.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
	}

	h.clearCookie(w, h.isSecure)
	respondJSON(w, http.StatusNoContent, nil)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, userResponse(user))
}

// VerifyEmail redeems an email verification token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Token == "" {
		badRequest(w, r, h.logger, "token is required")
		return
	}

	if err := h.users.VerifyEmail(r.Context(), req.Token); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// RequestPasswordReset mails a reset link. Always responds 204 so the
// endpoint cannot be used to probe registered addresses.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" {
		badRequest(w, r, h.logger, "email is required")
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.logger.Error("password reset request failed", "error", err)
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ResetPassword redeems a reset token and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Token == "" {
		badRequest(w, r, h.logger, "token is required")
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func userResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:              u.ID.String(),
		OrganizationID:  u.OrganizationID.String(),
		Email:           u.Email,
		Name:            u.Name,
		IsPlatformAdmin: u.IsPlatformAdmin,
	}
}
