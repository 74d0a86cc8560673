package middleware

import (
	"database/sql"
	"net/http"

	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// AuditMiddleware records security-relevant actions in the audit trail
type AuditMiddleware struct {
	auditRepo *repository.AuditRepository
}

// NewAuditMiddleware creates a new audit middleware
func NewAuditMiddleware(db *sql.DB) *AuditMiddleware {
	return &AuditMiddleware{
		auditRepo: repository.NewAuditRepository(db),
	}
}

// Log wraps a handler and appends an audit entry after it ran
func (m *AuditMiddleware) Log(action, resource string, details string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			var userID *uint
			if id, ok := GetUserID(r); ok {
				userID = &id
			}

			// Ignore errors so auditing never blocks the request
			_ = m.auditRepo.Create(&models.AuditLog{
				UserID:    userID,
				Action:    action,
				Resource:  resource,
				Details:   details,
				IPAddress: getIP(r),
				UserAgent: r.UserAgent(),
			})
		})
	}
}

// LogAction appends a specific audit entry
func (m *AuditMiddleware) LogAction(userID *uint, action, resource, details, ipAddress, userAgent string) error {
	return m.auditRepo.Create(&models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Details:   details,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})
}
