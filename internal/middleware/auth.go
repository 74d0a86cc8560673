package middleware

import (
	"context"
	"net/http"
	"strings"

	"kpi-registry/internal/auth"
	"kpi-registry/internal/repository"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserEmailKey contextKey = "user_email"
	TokenJTIKey  contextKey = "token_jti"
)

// AuthMiddleware validates JWT tokens against server-side sessions
type AuthMiddleware struct {
	authService *auth.Service
	sessionRepo *repository.SessionRepository
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authService *auth.Service, sessionRepo *repository.SessionRepository) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		sessionRepo: sessionRepo,
	}
}

// Authenticate validates the JWT token, requires a live session for its JTI
// and adds user info to the request context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondWithError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := m.authService.ValidateToken(parts[1])
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		// A token is only valid while its session row exists
		if _, err := m.sessionRepo.GetByJTI(claims.ID); err != nil {
			respondWithError(w, http.StatusUnauthorized, "Token has been invalidated")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
		ctx = context.WithValue(ctx, TokenJTIKey, claims.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID retrieves the user ID from the request context
func GetUserID(r *http.Request) (uint, bool) {
	userID, ok := r.Context().Value(UserIDKey).(uint)
	return userID, ok
}

// GetUserEmail retrieves the user email from the request context
func GetUserEmail(r *http.Request) (string, bool) {
	email, ok := r.Context().Value(UserEmailKey).(string)
	return email, ok
}

// GetTokenJTI retrieves the JTI of the presented token from the context
func GetTokenJTI(r *http.Request) (string, bool) {
	jti, ok := r.Context().Value(TokenJTIKey).(string)
	return jti, ok
}

// Helper function to respond with JSON error
func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
