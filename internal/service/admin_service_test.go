package service_test

import (
	"errors"
	"testing"
	"time"

	"kpi-registry/internal/auth"
	"kpi-registry/internal/config"
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/internal/testutil"

	"database/sql"
)

func newAdminService(db *sql.DB) *service.AdminService {
	return service.NewAdminService(
		repository.NewUserRepository(db),
		repository.NewSessionRepository(db),
		auth.NewService(&config.JWTConfig{Expiration: 24 * time.Hour}),
	)
}

func TestSetUserStatusActivatesPendingAccount(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newAdminService(containers.DB)

	user, err := svc.SetUserStatus(fixtures.PendingUser.ID, models.UserStatusActive)
	if err != nil {
		t.Fatalf("Failed to activate user: %v", err)
	}
	if user.Status != models.UserStatusActive {
		t.Errorf("Expected active status, got %s", user.Status)
	}

	// The freshly activated account can log in now
	authService := newAuthService(containers.DB)
	if _, _, err := authService.Login("pending@test.com", testutil.FixturePassword, "127.0.0.1", "test"); err != nil {
		t.Errorf("Activated account should be able to log in: %v", err)
	}
}

func TestRejectUserRevokesSessions(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	authService := newAuthService(containers.DB)
	svc := newAdminService(containers.DB)

	if _, _, err := authService.Login("user@test.com", testutil.FixturePassword, "127.0.0.1", "test"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := svc.SetUserStatus(fixtures.RegularUser.ID, models.UserStatusRejected); err != nil {
		t.Fatalf("Failed to reject user: %v", err)
	}

	var sessions int
	if err := containers.DB.QueryRow("SELECT COUNT(*) FROM sessions WHERE user_id = $1", fixtures.RegularUser.ID).Scan(&sessions); err != nil {
		t.Fatalf("Failed to count sessions: %v", err)
	}
	if sessions != 0 {
		t.Errorf("Rejecting an account should revoke its sessions, %d remain", sessions)
	}
}

func TestSetUserStatusUnknownStatus(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newAdminService(containers.DB)

	if _, err := svc.SetUserStatus(fixtures.RegularUser.ID, "frozen"); !errors.Is(err, service.ErrInvalidStatus) {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}
}

func TestSetUserRole(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newAdminService(containers.DB)

	user, err := svc.SetUserRole(fixtures.RegularUser.ID, models.RoleDataSpecialist)
	if err != nil {
		t.Fatalf("Failed to change role: %v", err)
	}
	if user.Role != models.RoleDataSpecialist {
		t.Errorf("Expected role %s, got %s", models.RoleDataSpecialist, user.Role)
	}

	if _, err := svc.SetUserRole(fixtures.RegularUser.ID, "superuser"); !errors.Is(err, service.ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestLastActiveAdminIsProtected(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newAdminService(containers.DB)

	// The fixture admin is the only active admin
	if _, err := svc.SetUserStatus(fixtures.AdminUser.ID, models.UserStatusRejected); !errors.Is(err, service.ErrLastAdmin) {
		t.Errorf("Deactivating the last admin should fail, got %v", err)
	}
	if _, err := svc.SetUserRole(fixtures.AdminUser.ID, models.RoleUser); err != nil && !errors.Is(err, service.ErrLastAdmin) {
		t.Errorf("Unexpected error on role demotion: %v", err)
	}

	// With a second active admin the demotion goes through
	testutil.CreateUser(t, containers.DB, "admin2@test.com", "Second Admin", models.RoleAdmin, models.UserStatusActive, true)

	if _, err := svc.SetUserStatus(fixtures.AdminUser.ID, models.UserStatusRejected); err != nil {
		t.Errorf("Deactivating an admin with a fallback should succeed: %v", err)
	}
}

func TestSetAdminFlag(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	svc := newAdminService(containers.DB)

	user, err := svc.SetAdminFlag(fixtures.RegularUser.ID, true)
	if err != nil {
		t.Fatalf("Failed to grant admin flag: %v", err)
	}
	if !user.HasAdminRights() {
		t.Error("User should have admin rights after flag grant")
	}

	user, err = svc.SetAdminFlag(fixtures.RegularUser.ID, false)
	if err != nil {
		t.Fatalf("Failed to revoke admin flag: %v", err)
	}
	if user.HasAdminRights() {
		t.Error("User should lose admin rights after flag revocation")
	}
}

func TestInviteUser(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	testutil.SetupFixtures(t, containers.DB)
	svc := newAdminService(containers.DB)

	user, password, err := svc.InviteUser("invited@test.com", "Invited User", models.RoleBusinessSpecialist)
	if err != nil {
		t.Fatalf("Failed to invite user: %v", err)
	}

	if user.Status != models.UserStatusActive {
		t.Errorf("Invited accounts should be active, got %s", user.Status)
	}
	if !user.ForcePasswordChange {
		t.Error("Invited accounts must change their password at first login")
	}
	if password == "" {
		t.Fatal("Invitation should return the one-time password")
	}

	// The generated password works once
	authService := newAuthService(containers.DB)
	if _, _, err := authService.Login("invited@test.com", password, "127.0.0.1", "test"); err != nil {
		t.Errorf("Invited account should log in with the generated password: %v", err)
	}

	// Duplicate invitations are refused
	if _, _, err := svc.InviteUser("invited@test.com", "Invited Again", models.RoleUser); !errors.Is(err, repository.ErrUserExists) {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}
}
