package service

import (
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// AuditService handles audit logging and retrieval
type AuditService struct {
	auditRepo *repository.AuditRepository
}

// NewAuditService creates a new audit service
func NewAuditService(auditRepo *repository.AuditRepository) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
	}
}

// Log creates an audit log entry, ignoring errors.
// Audit failures must never fail the main operation.
func (s *AuditService) Log(userID uint, action, resource, details string) {
	_ = s.auditRepo.Create(&models.AuditLog{
		UserID:   &userID,
		Action:   action,
		Resource: resource,
		Details:  details,
	})
}

// List retrieves audit logs with pagination, newest first
func (s *AuditService) List(limit, offset int) ([]models.AuditLog, error) {
	return s.auditRepo.GetAll(limit, offset)
}

// ListByUser retrieves audit logs for a specific user
func (s *AuditService) ListByUser(userID uint, limit, offset int) ([]models.AuditLog, error) {
	return s.auditRepo.GetByUserID(userID, limit, offset)
}
