package middleware

import (
	"database/sql"
	"net/http"

	"kpi-registry/internal/repository"
)

// RBACMiddleware handles role-based access control
type RBACMiddleware struct {
	userRepo *repository.UserRepository
}

// NewRBACMiddleware creates a new RBAC middleware
func NewRBACMiddleware(db *sql.DB) *RBACMiddleware {
	return &RBACMiddleware{
		userRepo: repository.NewUserRepository(db),
	}
}

// RequireAdmin allows only users with admin rights (admin role or admin flag)
func (m *RBACMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		user, err := m.userRepo.GetByID(userID)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "User not found")
			return
		}

		if !user.HasAdminRights() {
			respondWithError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole checks if the user has the required role. Admins pass any check.
func (m *RBACMiddleware) RequireRole(roleName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "User not authenticated")
				return
			}

			user, err := m.userRepo.GetByID(userID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "User not found")
				return
			}

			if user.Role != roleName && !user.HasAdminRights() {
				respondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole checks if the user has any of the required roles
func (m *RBACMiddleware) RequireAnyRole(roleNames ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "User not authenticated")
				return
			}

			user, err := m.userRepo.GetByID(userID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "User not found")
				return
			}

			hasRole := user.HasAdminRights()
			for _, requiredRole := range roleNames {
				if user.Role == requiredRole {
					hasRole = true
					break
				}
			}

			if !hasRole {
				respondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
