package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"kpi-registry/internal/middleware"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/pkg/validator"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService *service.AuthService
	auditMw     *middleware.AuditMiddleware
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, auditMw *middleware.AuditMiddleware) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		auditMw:     auditMw,
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// Register handles user registration
// @Summary Register a new user
// @Description Create a new account. The account stays pending until an admin activates it; the very first account becomes an active admin.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration details"
// @Success 201 {object} models.User "Registration successful"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 409 {object} map[string]string "Email already registered"
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.Register(validator.SanitizeEmail(req.Email), req.Password, validator.SanitizeString(req.FullName))
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			_ = h.auditMw.LogAction(nil, "user.register.error", "users", "Registration rejected, email already in use: "+req.Email, getIP(r), r.UserAgent())
			respondWithError(w, http.StatusConflict, "Email is already registered")
			return
		}
		slog.Error("Registration failed", "email", req.Email, "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("User registered", "user_id", user.ID, "email", user.Email, "status", user.Status)
	_ = h.auditMw.LogAction(&user.ID, "user.register", "users", "User registered", getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusCreated, user)
}

// Login handles user login
// @Summary User login
// @Description Authenticate user and return a JWT session token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} map[string]interface{} "Login successful with token"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Failure 403 {object} map[string]string "Account pending approval"
// @Failure 423 {object} map[string]string "Account locked"
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, user, err := h.authService.Login(validator.SanitizeEmail(req.Email), req.Password, getIP(r), r.UserAgent())
	if err != nil {
		slog.Warn("Login failed", "email", req.Email, "error", err, "ip", getIP(r))
		_ = h.auditMw.LogAction(nil, "user.login.failed", "users", "Failed login attempt for "+req.Email, getIP(r), r.UserAgent())

		switch {
		case errors.Is(err, service.ErrAccountLocked):
			respondWithError(w, http.StatusLocked, "Account is temporarily locked. Try again later.")
		case errors.Is(err, service.ErrAccountPending):
			respondWithError(w, http.StatusForbidden, "Account is pending approval")
		default:
			respondWithError(w, http.StatusUnauthorized, ErrMsgInvalidCredentials)
		}
		return
	}

	slog.Info("User logged in", "user_id", user.ID, "email", user.Email, "ip", getIP(r))
	_ = h.auditMw.LogAction(&user.ID, "user.login", "users", "User logged in", getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(h.authService.TokenExpiration().Seconds()),
		"user":       user,
	})
}

// Logout invalidates the current session
// @Summary User logout
// @Description Invalidate the session belonging to the presented token
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Logout successful"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	if err := h.authService.Logout(token); err != nil {
		slog.Warn("Logout failed", "error", err)
	}

	if userID, ok := middleware.GetUserID(r); ok {
		_ = h.auditMw.LogAction(&userID, "user.logout", "users", "User logged out", getIP(r), r.UserAgent())
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Profile returns the authenticated user's profile
// @Summary Get own profile
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /auth/profile [get]
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, ErrMsgUserNotFound)
		return
	}

	respondWithJSON(w, http.StatusOK, user.Sanitized())
}

// ChangePassword changes the authenticated user's password. All other
// sessions of the user are revoked.
// @Summary Change own password
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password change"
// @Success 200 {object} map[string]string "Password changed"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Wrong current password"
// @Router /auth/password [put]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	keepJTI, _ := middleware.GetTokenJTI(r)
	if err := h.authService.ChangePassword(userID, req.CurrentPassword, req.NewPassword, keepJTI); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, "Current password is incorrect")
		case errors.Is(err, service.ErrPasswordTooShort):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("Password change failed", "user_id", userID, "error", err)
			respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		}
		return
	}

	_ = h.auditMw.LogAction(&userID, "user.password_changed", "users", "Password changed", getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// bearerToken extracts the bearer token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
