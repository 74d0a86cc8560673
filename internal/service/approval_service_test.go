package service_test

import (
	"errors"
	"sync"
	"testing"

	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/internal/testutil"

	"database/sql"
)

func newApprovalService(db *sql.DB) *service.ApprovalService {
	return service.NewApprovalService(
		repository.NewApprovalRepository(db),
		repository.NewKPIRepository(db),
	)
}

// createPendingVersion creates a KPI with both specialists and records an
// update, leaving version 2 pending with two open approvals
func createPendingVersion(t *testing.T, db *sql.DB, fixtures *testutil.Fixtures) *models.KPIVersion {
	t.Helper()

	svc := newKPIService(db)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:                 "Customer Lifetime Value",
		Definition:           "Projected revenue per customer",
		DataSpecialistID:     &fixtures.DataSpecialist.ID,
		BusinessSpecialistID: &fixtures.BusinessSpecialist.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	version, err := svc.Update(fixtures.RegularUser.ID, kpi.ID, service.KPIInput{
		Name:                 "Customer Lifetime Value",
		Definition:           "Discounted projected revenue per customer",
		DataSpecialistID:     &fixtures.DataSpecialist.ID,
		BusinessSpecialistID: &fixtures.BusinessSpecialist.ID,
	}, "Added discounting")
	if err != nil {
		t.Fatalf("Failed to update KPI: %v", err)
	}

	return version
}

func TestListPendingApprovals(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	pending, err := svc.ListPending(fixtures.DataSpecialist.ID)
	if err != nil {
		t.Fatalf("Failed to list pending approvals: %v", err)
	}

	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending approval, got %d", len(pending))
	}
	if pending[0].VersionID != version.ID {
		t.Errorf("Expected version %d, got %d", version.ID, pending[0].VersionID)
	}
	if pending[0].KPIName != "Customer Lifetime Value" {
		t.Errorf("Pending entry should carry the KPI name, got %q", pending[0].KPIName)
	}

	// The author has nothing to review
	authorPending, err := svc.ListPending(fixtures.RegularUser.ID)
	if err != nil {
		t.Fatalf("Failed to list author approvals: %v", err)
	}
	if len(authorPending) != 0 {
		t.Errorf("Author should have no pending approvals, got %d", len(authorPending))
	}
}

func TestApproveByAllReviewersApprovesVersion(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	// First reviewer approves, version stays pending
	decided, err := svc.Approve(version.ID, fixtures.DataSpecialist.ID)
	if err != nil {
		t.Fatalf("First approval failed: %v", err)
	}
	if decided.Status != models.VersionStatusPending {
		t.Errorf("Version should stay pending after one of two approvals, got %s", decided.Status)
	}

	// Second reviewer approves, version and KPI settle as approved
	decided, err = svc.Approve(version.ID, fixtures.BusinessSpecialist.ID)
	if err != nil {
		t.Fatalf("Second approval failed: %v", err)
	}
	if decided.Status != models.VersionStatusApproved {
		t.Errorf("Version should be approved after all reviewers agree, got %s", decided.Status)
	}

	var kpiStatus string
	if err := containers.DB.QueryRow("SELECT status FROM kpis WHERE id = $1", version.KPIID).Scan(&kpiStatus); err != nil {
		t.Fatalf("Failed to read KPI status: %v", err)
	}
	if kpiStatus != models.VersionStatusApproved {
		t.Errorf("KPI should follow its version to approved, got %s", kpiStatus)
	}
}

func TestSingleRejectionSettlesVersion(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	decided, err := svc.Reject(version.ID, fixtures.BusinessSpecialist.ID)
	if err != nil {
		t.Fatalf("Rejection failed: %v", err)
	}
	if decided.Status != models.VersionStatusRejected {
		t.Errorf("One rejection should settle the version as rejected, got %s", decided.Status)
	}

	var kpiStatus string
	if err := containers.DB.QueryRow("SELECT status FROM kpis WHERE id = $1", version.KPIID).Scan(&kpiStatus); err != nil {
		t.Fatalf("Failed to read KPI status: %v", err)
	}
	if kpiStatus != models.VersionStatusRejected {
		t.Errorf("KPI should follow its version to rejected, got %s", kpiStatus)
	}
}

func TestApproveAfterRejectionDoesNotResurrectVersion(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	if _, err := svc.Reject(version.ID, fixtures.BusinessSpecialist.ID); err != nil {
		t.Fatalf("Rejection failed: %v", err)
	}

	// The rejection voids the other reviewer's open request
	pending, err := svc.ListPending(fixtures.DataSpecialist.ID)
	if err != nil {
		t.Fatalf("Failed to list pending approvals: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Settled version should leave no pending approvals, got %d", len(pending))
	}

	// A late approval must not flip the settled version
	if _, err := svc.Approve(version.ID, fixtures.DataSpecialist.ID); !errors.Is(err, repository.ErrApprovalNotFound) {
		t.Errorf("Deciding on a settled version should fail with ErrApprovalNotFound, got %v", err)
	}

	var versionStatus, kpiStatus string
	if err := containers.DB.QueryRow("SELECT status FROM kpi_versions WHERE id = $1", version.ID).Scan(&versionStatus); err != nil {
		t.Fatalf("Failed to read version status: %v", err)
	}
	if versionStatus != models.VersionStatusRejected {
		t.Errorf("Rejected version must stay rejected, got %s", versionStatus)
	}
	if err := containers.DB.QueryRow("SELECT status FROM kpis WHERE id = $1", version.KPIID).Scan(&kpiStatus); err != nil {
		t.Fatalf("Failed to read KPI status: %v", err)
	}
	if kpiStatus != models.VersionStatusRejected {
		t.Errorf("Rejected KPI must stay rejected, got %s", kpiStatus)
	}
}

func TestConcurrentApprovalsSettleVersion(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	// Both reviewers decide at the same time; the row lock on the version
	// serializes them so the last one to commit sees the other's approval
	var wg sync.WaitGroup
	reviewers := []uint{fixtures.DataSpecialist.ID, fixtures.BusinessSpecialist.ID}
	errs := make([]error, len(reviewers))
	for i, reviewer := range reviewers {
		wg.Add(1)
		go func(i int, reviewer uint) {
			defer wg.Done()
			_, errs[i] = svc.Approve(version.ID, reviewer)
		}(i, reviewer)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Reviewer %d failed to approve: %v", i, err)
		}
	}

	var versionStatus string
	if err := containers.DB.QueryRow("SELECT status FROM kpi_versions WHERE id = $1", version.ID).Scan(&versionStatus); err != nil {
		t.Fatalf("Failed to read version status: %v", err)
	}
	if versionStatus != models.VersionStatusApproved {
		t.Errorf("All approvals are in, version should be approved, got %s", versionStatus)
	}
}

func TestDecideTwiceFails(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	if _, err := svc.Approve(version.ID, fixtures.DataSpecialist.ID); err != nil {
		t.Fatalf("Approval failed: %v", err)
	}

	// The same reviewer cannot decide again
	if _, err := svc.Approve(version.ID, fixtures.DataSpecialist.ID); !errors.Is(err, repository.ErrApprovalNotFound) {
		t.Errorf("Second decision should fail with ErrApprovalNotFound, got %v", err)
	}
	if _, err := svc.Reject(version.ID, fixtures.DataSpecialist.ID); !errors.Is(err, repository.ErrApprovalNotFound) {
		t.Errorf("Flipping a settled decision should fail with ErrApprovalNotFound, got %v", err)
	}
}

func TestUninvolvedUserCannotDecide(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	version := createPendingVersion(t, containers.DB, fixtures)
	svc := newApprovalService(containers.DB)

	if _, err := svc.Approve(version.ID, fixtures.AdminUser.ID); !errors.Is(err, repository.ErrApprovalNotFound) {
		t.Errorf("Users without an approval request must not decide, got %v", err)
	}
}

func TestDecideOnMissingVersion(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newApprovalService(containers.DB)

	_, err := svc.Approve(99999, fixtures.DataSpecialist.ID)
	if !errors.Is(err, repository.ErrVersionNotFound) && !errors.Is(err, repository.ErrApprovalNotFound) {
		t.Errorf("Expected a not-found error, got %v", err)
	}
}
