package service

import (
	"fmt"

	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// KPIInput carries the editable fields of a KPI
type KPIInput struct {
	Name                 string
	Definition           string
	SQLQuery             string
	DataSpecialistID     *uint
	BusinessSpecialistID *uint
	TopicIDs             []uint
	AdditionalBlocks     string
}

// KPIService handles KPI business logic
type KPIService struct {
	kpiRepo   *repository.KPIRepository
	topicRepo *repository.TopicRepository
	userRepo  *repository.UserRepository
}

// NewKPIService creates a new KPI service
func NewKPIService(
	kpiRepo *repository.KPIRepository,
	topicRepo *repository.TopicRepository,
	userRepo *repository.UserRepository,
) *KPIService {
	return &KPIService{
		kpiRepo:   kpiRepo,
		topicRepo: topicRepo,
		userRepo:  userRepo,
	}
}

// Create creates a KPI together with version 1. The KPI row and the initial
// version commit in one transaction, so a KPI always has at least one version.
func (s *KPIService) Create(authorID uint, input KPIInput) (*models.KPI, error) {
	if err := s.resolveReferences(input); err != nil {
		return nil, err
	}

	kpi := &models.KPI{
		Name:                 input.Name,
		Definition:           input.Definition,
		SQLQuery:             input.SQLQuery,
		Status:               models.VersionStatusActive,
		DataSpecialistID:     input.DataSpecialistID,
		BusinessSpecialistID: input.BusinessSpecialistID,
		CreatedBy:            &authorID,
	}

	version := &models.KPIVersion{
		Definition:           input.Definition,
		SQLQuery:             input.SQLQuery,
		DataSpecialistID:     input.DataSpecialistID,
		BusinessSpecialistID: input.BusinessSpecialistID,
		TopicIDs:             toInt64(input.TopicIDs),
		AdditionalBlocks:     input.AdditionalBlocks,
		ChangeDescription:    "Initial version created",
		Status:               models.VersionStatusActive,
		CreatedBy:            &authorID,
	}

	if err := s.kpiRepo.CreateWithInitialVersion(kpi, input.TopicIDs, version); err != nil {
		return nil, err
	}

	return s.kpiRepo.GetByID(kpi.ID)
}

// Update updates the KPI snapshot and appends the next version. When both
// specialist roles are assigned the new version requires review: it is
// created pending with an approval row per assigned specialist, excluding
// the author. Returns repository.ErrVersionConflict when a concurrent
// update claimed the same version number; the caller may retry.
func (s *KPIService) Update(authorID, kpiID uint, input KPIInput, changeDescription string) (*models.KPIVersion, error) {
	if _, err := s.kpiRepo.GetByID(kpiID); err != nil {
		return nil, err
	}
	if err := s.resolveReferences(input); err != nil {
		return nil, err
	}

	approvers := requiredApprovers(authorID, input.DataSpecialistID, input.BusinessSpecialistID)

	status := models.VersionStatusActive
	if len(approvers) > 0 {
		status = models.VersionStatusPending
	}

	kpi := &models.KPI{
		ID:                   kpiID,
		Name:                 input.Name,
		Definition:           input.Definition,
		SQLQuery:             input.SQLQuery,
		Status:               status,
		DataSpecialistID:     input.DataSpecialistID,
		BusinessSpecialistID: input.BusinessSpecialistID,
	}

	version := &models.KPIVersion{
		Definition:           input.Definition,
		SQLQuery:             input.SQLQuery,
		DataSpecialistID:     input.DataSpecialistID,
		BusinessSpecialistID: input.BusinessSpecialistID,
		TopicIDs:             toInt64(input.TopicIDs),
		AdditionalBlocks:     input.AdditionalBlocks,
		ChangeDescription:    changeDescription,
		Status:               status,
		CreatedBy:            &authorID,
	}

	if err := s.kpiRepo.UpdateWithNewVersion(kpi, input.TopicIDs, version, approvers); err != nil {
		return nil, err
	}

	return version, nil
}

// Get retrieves a KPI with its version history
func (s *KPIService) Get(kpiID uint) (*models.KPI, error) {
	return s.kpiRepo.GetByID(kpiID)
}

// List retrieves all KPIs
func (s *KPIService) List() ([]models.KPI, error) {
	return s.kpiRepo.GetAll()
}

// Delete deletes a KPI including its versions and approvals
func (s *KPIService) Delete(kpiID uint) error {
	return s.kpiRepo.Delete(kpiID)
}

// resolveReferences verifies that referenced topics and specialists exist
func (s *KPIService) resolveReferences(input KPIInput) error {
	if _, err := s.topicRepo.GetByIDs(input.TopicIDs); err != nil {
		return err
	}

	for _, specialistID := range []*uint{input.DataSpecialistID, input.BusinessSpecialistID} {
		if specialistID == nil {
			continue
		}
		if _, err := s.userRepo.GetByID(*specialistID); err != nil {
			return fmt.Errorf("specialist %d: %w", *specialistID, err)
		}
	}

	return nil
}

// requiredApprovers returns the reviewers for a change: both assigned
// specialists, excluding the author, deduplicated. Review is only required
// when both specialist roles are filled.
func requiredApprovers(authorID uint, dataSpecialistID, businessSpecialistID *uint) []uint {
	if dataSpecialistID == nil || businessSpecialistID == nil {
		return nil
	}

	var approvers []uint
	seen := map[uint]bool{authorID: true}
	for _, id := range []uint{*dataSpecialistID, *businessSpecialistID} {
		if !seen[id] {
			seen[id] = true
			approvers = append(approvers, id)
		}
	}

	return approvers
}

func toInt64(ids []uint) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
