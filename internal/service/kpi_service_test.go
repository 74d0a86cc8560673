package service_test

import (
	"errors"
	"testing"

	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/internal/testutil"

	"database/sql"
)

func newKPIService(db *sql.DB) *service.KPIService {
	return service.NewKPIService(
		repository.NewKPIRepository(db),
		repository.NewTopicRepository(db),
		repository.NewUserRepository(db),
	)
}

func TestCreateKPIWithInitialVersion(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:       "Monthly Recurring Revenue",
		Definition: "Sum of all active subscription fees per month",
		SQLQuery:   "SELECT SUM(fee) FROM subscriptions WHERE active",
		TopicIDs:   []uint{fixtures.Topics[0].ID},
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	if kpi.Status != models.VersionStatusActive {
		t.Errorf("New KPI should be active, got %s", kpi.Status)
	}
	if len(kpi.Versions) != 1 {
		t.Fatalf("New KPI should have exactly one version, got %d", len(kpi.Versions))
	}
	if kpi.Versions[0].VersionNumber != 1 {
		t.Errorf("Initial version number should be 1, got %d", kpi.Versions[0].VersionNumber)
	}
	if len(kpi.Topics) != 1 || kpi.Topics[0].ID != fixtures.Topics[0].ID {
		t.Errorf("KPI should carry its assigned topic, got %+v", kpi.Topics)
	}
}

func TestCreateKPIUnknownTopic(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	_, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:       "Broken",
		Definition: "References a topic that does not exist",
		TopicIDs:   []uint{99999},
	})
	if !errors.Is(err, repository.ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound, got %v", err)
	}
}

func TestUpdateKPIVersionNumbersAreGapless(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:       "Churn Rate",
		Definition: "Share of customers lost per month",
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	for i := 2; i <= 5; i++ {
		version, err := svc.Update(fixtures.RegularUser.ID, kpi.ID, service.KPIInput{
			Name:       "Churn Rate",
			Definition: "Revised definition",
		}, "Refined wording")
		if err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
		if version.VersionNumber != i {
			t.Errorf("Expected version number %d, got %d", i, version.VersionNumber)
		}
	}

	updated, err := svc.Get(kpi.ID)
	if err != nil {
		t.Fatalf("Failed to reload KPI: %v", err)
	}
	if len(updated.Versions) != 5 {
		t.Errorf("Expected 5 versions, got %d", len(updated.Versions))
	}
	for i, version := range updated.Versions {
		if version.VersionNumber != i+1 {
			t.Errorf("Version history has a gap at index %d: number %d", i, version.VersionNumber)
		}
	}
}

func TestUpdateWithoutSpecialistsStaysActive(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:             "Conversion Rate",
		Definition:       "Visitors converting to customers",
		DataSpecialistID: &fixtures.DataSpecialist.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	// Only one specialist assigned, so updates take effect immediately
	version, err := svc.Update(fixtures.RegularUser.ID, kpi.ID, service.KPIInput{
		Name:             "Conversion Rate",
		Definition:       "Sessions converting to orders",
		DataSpecialistID: &fixtures.DataSpecialist.ID,
	}, "Clarified denominator")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if version.Status != models.VersionStatusActive {
		t.Errorf("Version without full review board should be active, got %s", version.Status)
	}

	var approvals int
	if err := containers.DB.QueryRow("SELECT COUNT(*) FROM approvals WHERE version_id = $1", version.ID).Scan(&approvals); err != nil {
		t.Fatalf("Failed to count approvals: %v", err)
	}
	if approvals != 0 {
		t.Errorf("No approvals should be requested, got %d", approvals)
	}
}

func TestUpdateWithBothSpecialistsRequiresApproval(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:                 "Net Promoter Score",
		Definition:           "Promoters minus detractors",
		DataSpecialistID:     &fixtures.DataSpecialist.ID,
		BusinessSpecialistID: &fixtures.BusinessSpecialist.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	version, err := svc.Update(fixtures.RegularUser.ID, kpi.ID, service.KPIInput{
		Name:                 "Net Promoter Score",
		Definition:           "Promoters minus detractors, quarterly",
		DataSpecialistID:     &fixtures.DataSpecialist.ID,
		BusinessSpecialistID: &fixtures.BusinessSpecialist.ID,
	}, "Switched to quarterly window")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if version.Status != models.VersionStatusPending {
		t.Errorf("Version should be pending review, got %s", version.Status)
	}

	var approvals int
	if err := containers.DB.QueryRow("SELECT COUNT(*) FROM approvals WHERE version_id = $1 AND status = 'pending'", version.ID).Scan(&approvals); err != nil {
		t.Fatalf("Failed to count approvals: %v", err)
	}
	if approvals != 2 {
		t.Errorf("Both specialists should be asked to review, got %d approvals", approvals)
	}
}

func TestUpdateByReviewerExcludesAuthorFromApprovals(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:                 "Average Order Value",
		Definition:           "Revenue divided by order count",
		DataSpecialistID:     &fixtures.DataSpecialist.ID,
		BusinessSpecialistID: &fixtures.BusinessSpecialist.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	// The data specialist edits, so only the business specialist reviews
	version, err := svc.Update(fixtures.DataSpecialist.ID, kpi.ID, service.KPIInput{
		Name:                 "Average Order Value",
		Definition:           "Net revenue divided by order count",
		DataSpecialistID:     &fixtures.DataSpecialist.ID,
		BusinessSpecialistID: &fixtures.BusinessSpecialist.ID,
	}, "Net instead of gross revenue")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var reviewerID uint
	if err := containers.DB.QueryRow("SELECT user_id FROM approvals WHERE version_id = $1", version.ID).Scan(&reviewerID); err != nil {
		t.Fatalf("Failed to read approval: %v", err)
	}
	if reviewerID != fixtures.BusinessSpecialist.ID {
		t.Errorf("Author must not review their own change, approval went to %d", reviewerID)
	}
}

func TestUpdateMissingKPI(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	_, err := svc.Update(fixtures.RegularUser.ID, 99999, service.KPIInput{
		Name:       "Ghost",
		Definition: "Does not exist",
	}, "noop")
	if !errors.Is(err, repository.ErrKPINotFound) {
		t.Errorf("Expected ErrKPINotFound, got %v", err)
	}
}

func TestDeleteKPICascades(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newKPIService(containers.DB)

	kpi, err := svc.Create(fixtures.RegularUser.ID, service.KPIInput{
		Name:       "Throwaway",
		Definition: "Created to be deleted",
		TopicIDs:   []uint{fixtures.Topics[0].ID},
	})
	if err != nil {
		t.Fatalf("Failed to create KPI: %v", err)
	}

	if err := svc.Delete(kpi.ID); err != nil {
		t.Fatalf("Failed to delete KPI: %v", err)
	}

	var versions, links int
	if err := containers.DB.QueryRow("SELECT COUNT(*) FROM kpi_versions WHERE kpi_id = $1", kpi.ID).Scan(&versions); err != nil {
		t.Fatalf("Failed to count versions: %v", err)
	}
	if err := containers.DB.QueryRow("SELECT COUNT(*) FROM kpi_topics WHERE kpi_id = $1", kpi.ID).Scan(&links); err != nil {
		t.Fatalf("Failed to count topic links: %v", err)
	}
	if versions != 0 || links != 0 {
		t.Errorf("Delete should cascade: %d versions and %d topic links remain", versions, links)
	}

	// The topic itself survives
	var topics int
	if err := containers.DB.QueryRow("SELECT COUNT(*) FROM topics WHERE id = $1", fixtures.Topics[0].ID).Scan(&topics); err != nil {
		t.Fatalf("Failed to count topics: %v", err)
	}
	if topics != 1 {
		t.Error("Deleting a KPI must not delete its topics")
	}
}
