package service

import (
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// ApprovalService handles the review workflow for pending KPI versions
type ApprovalService struct {
	approvalRepo *repository.ApprovalRepository
	kpiRepo      *repository.KPIRepository
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	approvalRepo *repository.ApprovalRepository,
	kpiRepo *repository.KPIRepository,
) *ApprovalService {
	return &ApprovalService{
		approvalRepo: approvalRepo,
		kpiRepo:      kpiRepo,
	}
}

// ListPending retrieves the reviewer's open approvals with KPI context
func (s *ApprovalService) ListPending(userID uint) ([]models.PendingApproval, error) {
	return s.approvalRepo.ListPendingByUser(userID)
}

// Approve records an approval. The version transitions to approved once
// every required reviewer has approved. Returns the version state after
// the decision. A reviewer without a pending approval for the version
// gets repository.ErrApprovalNotFound.
func (s *ApprovalService) Approve(versionID, userID uint) (*models.KPIVersion, error) {
	if _, err := s.kpiRepo.GetVersionByID(versionID); err != nil {
		return nil, err
	}
	return s.approvalRepo.Approve(versionID, userID)
}

// Reject records a rejection. Any single rejection immediately marks the
// version and its KPI rejected.
func (s *ApprovalService) Reject(versionID, userID uint) (*models.KPIVersion, error) {
	if _, err := s.kpiRepo.GetVersionByID(versionID); err != nil {
		return nil, err
	}
	return s.approvalRepo.Reject(versionID, userID)
}
