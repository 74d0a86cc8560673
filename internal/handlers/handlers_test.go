package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"kpi-registry/internal/config"
	"kpi-registry/internal/handlers"
	"kpi-registry/internal/middleware"
	"kpi-registry/internal/models"
	"kpi-registry/internal/notifier"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/internal/testutil"

	"database/sql"
)

type testServer struct {
	mux        *http.ServeMux
	authHelper *testutil.AuthHelper
}

// newTestServer wires the full HTTP stack against a test database. The
// auth helper shares the signing keys with the server's auth middleware.
func newTestServer(db *sql.DB) *testServer {
	authHelper := testutil.NewAuthHelper(db)
	authService := authHelper.Service

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	topicRepo := repository.NewTopicRepository(db)
	kpiRepo := repository.NewKPIRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)

	authSvc := service.NewAuthService(db, userRepo, sessionRepo, authService, config.LockoutConfig{
		MaxFailedAttempts: 5,
		Duration:          30 * time.Minute,
	})
	kpiService := service.NewKPIService(kpiRepo, topicRepo, userRepo)
	topicService := service.NewTopicService(topicRepo)
	approvalService := service.NewApprovalService(approvalRepo, kpiRepo)
	auditService := service.NewAuditService(repository.NewAuditRepository(db))
	adminService := service.NewAdminService(userRepo, sessionRepo, authService)

	approvalNotifier := notifier.New(approvalRepo, &config.NotifierConfig{PollInterval: time.Minute})

	authMw := middleware.NewAuthMiddleware(authService, sessionRepo)
	rbacMw := middleware.NewRBACMiddleware(db)
	auditMw := middleware.NewAuditMiddleware(db)

	authHandler := handlers.NewAuthHandler(authSvc, auditMw)
	kpiHandler := handlers.NewKPIHandler(kpiService, auditMw)
	topicHandler := handlers.NewTopicHandler(topicService, auditMw)
	approvalHandler := handlers.NewApprovalHandler(approvalService, approvalNotifier, auditMw)
	adminHandler := handlers.NewAdminHandler(adminService, auditMw)
	auditHandler := handlers.NewAuditHandler(auditService)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.Handle("GET /api/v1/auth/profile", authMw.Authenticate(http.HandlerFunc(authHandler.Profile)))
	mux.Handle("POST /api/v1/kpis", authMw.Authenticate(http.HandlerFunc(kpiHandler.Create)))
	mux.Handle("GET /api/v1/kpis/{id}", authMw.Authenticate(http.HandlerFunc(kpiHandler.Get)))
	mux.Handle("PUT /api/v1/kpis/{id}", authMw.Authenticate(http.HandlerFunc(kpiHandler.Update)))
	mux.Handle("POST /api/v1/topics", authMw.Authenticate(http.HandlerFunc(topicHandler.Create)))
	mux.Handle("POST /api/v1/approvals/{id}/approve", authMw.Authenticate(http.HandlerFunc(approvalHandler.Approve)))
	mux.Handle("GET /api/v1/admin/audit-logs", authMw.Authenticate(rbacMw.RequireAdmin(http.HandlerFunc(auditHandler.List))))
	mux.Handle("PUT /api/v1/admin/users/{id}/status", authMw.Authenticate(rbacMw.RequireAdmin(http.HandlerFunc(adminHandler.SetStatus))))

	return &testServer{mux: mux, authHelper: authHelper}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterAndLoginFlow(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	testutil.SetupFixtures(t, containers.DB)
	ts := newTestServer(containers.DB)

	// Register a new account
	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     "newcomer@test.com",
		"password":  "password123",
		"full_name": "New Comer",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate registration conflicts
	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     "newcomer@test.com",
		"password":  "password123",
		"full_name": "New Comer",
	}))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", rec.Code)
	}

	// Pending accounts cannot log in yet
	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "newcomer@test.com",
		"password": "password123",
	}))
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for pending account, got %d", rec.Code)
	}

	// Active fixture user logs in fine
	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "user@test.com",
		"password": testutil.FixturePassword,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("Login response should carry a token")
	}

	// The issued token opens the profile
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from profile, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginLockoutReturns423(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	testutil.SetupFixtures(t, containers.DB)
	ts := newTestServer(containers.DB)

	for i := 0; i < 5; i++ {
		rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"email":    "user@test.com",
			"password": "wrongpassword",
		}))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "user@test.com",
		"password": testutil.FixturePassword,
	}))
	if rec.Code != http.StatusLocked {
		t.Errorf("Expected 423 after lockout, got %d", rec.Code)
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	testutil.SetupFixtures(t, containers.DB)
	ts := newTestServer(containers.DB)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	if rec := ts.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	if rec := ts.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireAdminRights(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	ts := newTestServer(containers.DB)

	// Regular users are shut out
	req := ts.authHelper.CreateAuthenticatedRequest(t, http.MethodGet, "/api/v1/admin/audit-logs", fixtures.RegularUser)
	if rec := ts.do(t, req); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", rec.Code)
	}

	// Admins get through
	req = ts.authHelper.CreateAuthenticatedRequest(t, http.MethodGet, "/api/v1/admin/audit-logs", fixtures.AdminUser)
	if rec := ts.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin, got %d", rec.Code)
	}
}

func TestStatusChangeWritesAuditTag(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	ts := newTestServer(containers.DB)

	req := ts.authHelper.CreateAuthenticatedRequest(t, http.MethodPut,
		"/api/v1/admin/users/"+itoa(fixtures.PendingUser.ID)+"/status", fixtures.AdminUser)
	req.Body = jsonBody(t, map[string]string{"status": models.UserStatusActive})
	req.Header.Set("Content-Type", "application/json")

	if rec := ts.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var count int
	err := containers.DB.QueryRow(
		"SELECT COUNT(*) FROM audit_logs WHERE action = $1 AND user_id = $2",
		"user.status_changed_to_active", fixtures.AdminUser.ID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query audit logs: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected one status-change audit entry, got %d", count)
	}
}

func TestKPIEndpointsEndToEnd(t *testing.T) {
	containers := testutil.SetupTestContainers(t)
	defer containers.Cleanup(t)

	fixtures := testutil.SetupFixtures(t, containers.DB)
	ts := newTestServer(containers.DB)

	// Create a KPI with both specialists assigned
	req := ts.authHelper.CreateAuthenticatedRequest(t, http.MethodPost, "/api/v1/kpis", fixtures.RegularUser)
	req.Body = jsonBody(t, map[string]interface{}{
		"name":                   "Gross Margin",
		"definition":             "Revenue minus cost of goods sold",
		"data_specialist_id":     fixtures.DataSpecialist.ID,
		"business_specialist_id": fixtures.BusinessSpecialist.ID,
		"topic_ids":              []uint{fixtures.Topics[0].ID},
	})
	req.Header.Set("Content-Type", "application/json")

	rec := ts.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var kpi models.KPI
	if err := json.Unmarshal(rec.Body.Bytes(), &kpi); err != nil {
		t.Fatalf("Failed to decode KPI: %v", err)
	}

	// Update it, which parks version 2 in review
	req = ts.authHelper.CreateAuthenticatedRequest(t, http.MethodPut, "/api/v1/kpis/"+itoa(kpi.ID), fixtures.RegularUser)
	req.Body = jsonBody(t, map[string]interface{}{
		"name":                   "Gross Margin",
		"definition":             "Revenue minus COGS, excluding shipping",
		"data_specialist_id":     fixtures.DataSpecialist.ID,
		"business_specialist_id": fixtures.BusinessSpecialist.ID,
		"change_description":     "Excluded shipping costs",
	})
	req.Header.Set("Content-Type", "application/json")

	rec = ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var version models.KPIVersion
	if err := json.Unmarshal(rec.Body.Bytes(), &version); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	if version.Status != models.VersionStatusPending {
		t.Errorf("Version should be pending, got %s", version.Status)
	}

	// A reviewer without an approval request gets a 404
	req = ts.authHelper.CreateAuthenticatedRequest(t, http.MethodPost,
		"/api/v1/approvals/"+itoa(version.ID)+"/approve", fixtures.AdminUser)
	if rec := ts.do(t, req); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for uninvolved reviewer, got %d", rec.Code)
	}

	// The requested specialists approve
	req = ts.authHelper.CreateAuthenticatedRequest(t, http.MethodPost,
		"/api/v1/approvals/"+itoa(version.ID)+"/approve", fixtures.DataSpecialist)
	if rec := ts.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("First approval: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = ts.authHelper.CreateAuthenticatedRequest(t, http.MethodPost,
		"/api/v1/approvals/"+itoa(version.ID)+"/approve", fixtures.BusinessSpecialist)
	rec = ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Second approval: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var decided models.KPIVersion
	if err := json.Unmarshal(rec.Body.Bytes(), &decided); err != nil {
		t.Fatalf("Failed to decode decided version: %v", err)
	}
	if decided.Status != models.VersionStatusApproved {
		t.Errorf("Version should be approved after both reviews, got %s", decided.Status)
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func jsonBody(t *testing.T, body interface{}) io.ReadCloser {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	return io.NopCloser(bytes.NewReader(data))
}
