package testutil

import (
	"database/sql"
	"testing"

	"kpi-registry/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// FixturePassword is the plaintext password of every fixture user
const FixturePassword = "password123"

// Fixtures holds test data
type Fixtures struct {
	DB                 *sql.DB
	AdminUser          *models.User
	DataSpecialist     *models.User
	BusinessSpecialist *models.User
	RegularUser        *models.User
	PendingUser        *models.User
	Topics             []models.Topic
}

// SetupFixtures creates test data
func SetupFixtures(t *testing.T, db *sql.DB) *Fixtures {
	t.Helper()

	fixtures := &Fixtures{
		DB: db,
	}

	fixtures.AdminUser = CreateUser(t, db, "admin@test.com", "Admin User", models.RoleAdmin, models.UserStatusActive, true)
	fixtures.DataSpecialist = CreateUser(t, db, "data@test.com", "Data Specialist", models.RoleDataSpecialist, models.UserStatusActive, false)
	fixtures.BusinessSpecialist = CreateUser(t, db, "business@test.com", "Business Specialist", models.RoleBusinessSpecialist, models.UserStatusActive, false)
	fixtures.RegularUser = CreateUser(t, db, "user@test.com", "Regular User", models.RoleUser, models.UserStatusActive, false)
	fixtures.PendingUser = CreateUser(t, db, "pending@test.com", "Pending User", models.RoleUser, models.UserStatusPending, false)

	fixtures.Topics = []models.Topic{
		*CreateTopic(t, db, "Finance", "Revenue and cost KPIs"),
		*CreateTopic(t, db, "Marketing", "Campaign and funnel KPIs"),
	}

	return fixtures
}

// CreateUser creates a user with the given role and status
func CreateUser(t *testing.T, db *sql.DB, email, fullName, role, status string, isAdmin bool) *models.User {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(FixturePassword), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	var user models.User
	err = db.QueryRow(`
		INSERT INTO users (email, password_hash, full_name, role, is_admin, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, full_name, role, is_admin, status, created_at, updated_at
	`, email, string(hashedPassword), fullName, role, isAdmin, status).Scan(
		&user.ID, &user.Email, &user.FullName, &user.Role,
		&user.IsAdmin, &user.Status, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}

	return &user
}

// CreateTopic creates a topic
func CreateTopic(t *testing.T, db *sql.DB, name, description string) *models.Topic {
	t.Helper()

	var topic models.Topic
	err := db.QueryRow(`
		INSERT INTO topics (name, description, icon, color)
		VALUES ($1, $2, '', '')
		RETURNING id, name, description, icon, color, created_at, updated_at
	`, name, description).Scan(
		&topic.ID, &topic.Name, &topic.Description, &topic.Icon,
		&topic.Color, &topic.CreatedAt, &topic.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("Failed to create topic %s: %v", name, err)
	}

	return &topic
}

// CreateKPI creates a KPI with its initial active version
func CreateKPI(t *testing.T, db *sql.DB, name string, createdBy uint, dataSpecialistID, businessSpecialistID *uint) *models.KPI {
	t.Helper()

	var kpi models.KPI
	err := db.QueryRow(`
		INSERT INTO kpis (name, definition, sql_query, status, data_specialist_id, business_specialist_id, created_by)
		VALUES ($1, 'Definition of '||$1, 'SELECT 1', 'active', $2, $3, $4)
		RETURNING id, name, definition, sql_query, status, created_at, updated_at
	`, name, dataSpecialistID, businessSpecialistID, createdBy).Scan(
		&kpi.ID, &kpi.Name, &kpi.Definition, &kpi.SQLQuery,
		&kpi.Status, &kpi.CreatedAt, &kpi.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("Failed to create KPI %s: %v", name, err)
	}

	_, err = db.Exec(`
		INSERT INTO kpi_versions (kpi_id, version_number, definition, sql_query, data_specialist_id, business_specialist_id, topic_ids, change_description, status, created_by)
		VALUES ($1, 1, $2, $3, $4, $5, '{}', 'Initial version created', 'active', $6)
	`, kpi.ID, kpi.Definition, kpi.SQLQuery, dataSpecialistID, businessSpecialistID, createdBy)
	if err != nil {
		t.Fatalf("Failed to create initial version for KPI %s: %v", name, err)
	}

	return &kpi
}

// Cleanup removes all test data
func (f *Fixtures) Cleanup(t *testing.T) {
	t.Helper()

	// Cleanup is handled by container termination.
	// Data is not persisted between tests.
}
