package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kpi-registry/internal/auth"
	"kpi-registry/internal/config"
	"kpi-registry/internal/database"
	"kpi-registry/internal/handlers"
	"kpi-registry/internal/logger"
	"kpi-registry/internal/middleware"
	"kpi-registry/internal/notifier"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/internal/vault"

	httpSwagger "github.com/swaggo/http-swagger"
)

// @title KPI Registry API
// @version 1.0
// @description Backend API for the KPI registry, the shared catalogue of business KPI definitions with versioning and specialist approval
// @termsOfService http://swagger.io/terms/

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logger
	logger.Setup(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("Starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
		"log_level", cfg.Log.Level,
	)

	// Fetch the JWT signing key from Vault when enabled. Otherwise the
	// key comes from JWT_SECRET.
	if cfg.Vault.Enabled {
		vaultClient, err := vault.NewClient(&vault.Config{
			Address: cfg.Vault.Address,
			Token:   cfg.Vault.Token,
		})
		if err != nil {
			slog.Error("Failed to initialize Vault client", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		key, err := vaultClient.GetSigningKey(ctx, cfg.Vault.SecretPath)
		cancel()
		if err != nil {
			slog.Error("Failed to load signing key from Vault", "path", cfg.Vault.SecretPath, "error", err)
			os.Exit(1)
		}

		cfg.JWT.Secret = key
		slog.Info("JWT signing key loaded from Vault", "vault_addr", cfg.Vault.Address)
	}

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func(db *database.Database) {
		err := db.Close()
		if err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}(db)

	slog.Info("Database connection established")

	// Run database migrations
	migrator := database.NewMigrationExecutor(db.DB)
	if err := migrator.RunMigrations("./migrations"); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations completed")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	auditRepo := repository.NewAuditRepository(db.DB)
	topicRepo := repository.NewTopicRepository(db.DB)
	kpiRepo := repository.NewKPIRepository(db.DB)
	approvalRepo := repository.NewApprovalRepository(db.DB)

	// Initialize services
	authService := auth.NewService(&cfg.JWT)
	authSvc := service.NewAuthService(db.DB, userRepo, sessionRepo, authService, cfg.Lockout)
	kpiService := service.NewKPIService(kpiRepo, topicRepo, userRepo)
	topicService := service.NewTopicService(topicRepo)
	approvalService := service.NewApprovalService(approvalRepo, kpiRepo)
	auditService := service.NewAuditService(auditRepo)
	adminService := service.NewAdminService(userRepo, sessionRepo, authService)

	// Initialize approval notifier
	approvalNotifier := notifier.New(approvalRepo, &cfg.Notifier)
	if cfg.Notifier.Enabled {
		approvalNotifier.Start()
		defer approvalNotifier.Stop()
	}

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(authService, sessionRepo)
	rbacMw := middleware.NewRBACMiddleware(db.DB)
	corsMw := middleware.NewCORSMiddleware(&cfg.CORS)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit)
	auditMw := middleware.NewAuditMiddleware(db.DB)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authSvc, auditMw)
	kpiHandler := handlers.NewKPIHandler(kpiService, auditMw)
	topicHandler := handlers.NewTopicHandler(topicService, auditMw)
	userHandler := handlers.NewUserHandler(adminService)
	approvalHandler := handlers.NewApprovalHandler(approvalService, approvalNotifier, auditMw)
	adminHandler := handlers.NewAdminHandler(adminService, auditMw)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Setup router
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Authenticated routes
	mux.Handle("POST /api/v1/auth/logout", authMw.Authenticate(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /api/v1/auth/profile", authMw.Authenticate(http.HandlerFunc(authHandler.Profile)))
	mux.Handle("PUT /api/v1/auth/password", authMw.Authenticate(http.HandlerFunc(authHandler.ChangePassword)))

	mux.Handle("GET /api/v1/kpis", authMw.Authenticate(http.HandlerFunc(kpiHandler.List)))
	mux.Handle("POST /api/v1/kpis", authMw.Authenticate(http.HandlerFunc(kpiHandler.Create)))
	mux.Handle("GET /api/v1/kpis/{id}", authMw.Authenticate(http.HandlerFunc(kpiHandler.Get)))
	mux.Handle("PUT /api/v1/kpis/{id}", authMw.Authenticate(http.HandlerFunc(kpiHandler.Update)))
	mux.Handle("DELETE /api/v1/kpis/{id}", authMw.Authenticate(http.HandlerFunc(kpiHandler.Delete)))
	mux.Handle("GET /api/v1/kpis/{id}/versions", authMw.Authenticate(http.HandlerFunc(kpiHandler.ListVersions)))

	mux.Handle("GET /api/v1/topics", authMw.Authenticate(http.HandlerFunc(topicHandler.List)))
	mux.Handle("POST /api/v1/topics", authMw.Authenticate(http.HandlerFunc(topicHandler.Create)))
	mux.Handle("GET /api/v1/topics/{id}", authMw.Authenticate(http.HandlerFunc(topicHandler.Get)))
	mux.Handle("PUT /api/v1/topics/{id}", authMw.Authenticate(http.HandlerFunc(topicHandler.Update)))
	mux.Handle("DELETE /api/v1/topics/{id}", authMw.Authenticate(http.HandlerFunc(topicHandler.Delete)))

	mux.Handle("GET /api/v1/users", authMw.Authenticate(http.HandlerFunc(userHandler.List)))

	mux.Handle("GET /api/v1/approvals", authMw.Authenticate(http.HandlerFunc(approvalHandler.ListPending)))
	mux.Handle("POST /api/v1/approvals/{id}/approve", authMw.Authenticate(http.HandlerFunc(approvalHandler.Approve)))
	mux.Handle("POST /api/v1/approvals/{id}/reject", authMw.Authenticate(http.HandlerFunc(approvalHandler.Reject)))

	// Admin routes
	mux.Handle("GET /api/v1/admin/users",
		authMw.Authenticate(
			rbacMw.RequireAdmin(
				http.HandlerFunc(adminHandler.ListUsers),
			),
		),
	)
	mux.Handle("PUT /api/v1/admin/users/{id}/status",
		authMw.Authenticate(
			rbacMw.RequireAdmin(
				http.HandlerFunc(adminHandler.SetStatus),
			),
		),
	)
	mux.Handle("PUT /api/v1/admin/users/{id}/role",
		authMw.Authenticate(
			rbacMw.RequireAdmin(
				http.HandlerFunc(adminHandler.SetRole),
			),
		),
	)
	mux.Handle("PUT /api/v1/admin/users/{id}/admin",
		authMw.Authenticate(
			rbacMw.RequireAdmin(
				http.HandlerFunc(adminHandler.SetAdminFlag),
			),
		),
	)
	mux.Handle("POST /api/v1/admin/users/invite",
		authMw.Authenticate(
			rbacMw.RequireAdmin(
				http.HandlerFunc(adminHandler.InviteUser),
			),
		),
	)
	mux.Handle("GET /api/v1/admin/audit-logs",
		authMw.Authenticate(
			rbacMw.RequireAdmin(
				http.HandlerFunc(auditHandler.List),
			),
		),
	)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, err := w.Write([]byte(`{"status":"unhealthy","database":"error"}`))
			if err != nil {
				slog.Error("Failed to write health check response", "error", err)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(`{"status":"healthy","version":"` + cfg.App.Version + `"}`))
		if err != nil {
			slog.Error("Failed to write health check response", "error", err)
		}
	})

	// Swagger documentation
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	// Apply global middleware
	handler := middleware.RequestID(
		middleware.LoggingMiddleware(
			middleware.SecurityHeaders(
				corsMw.Handler(
					rateLimiter.Limit(mux),
				),
			),
		),
	)

	// Create server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.TimeoutRead,
		WriteTimeout: cfg.Server.TimeoutWrite,
		IdleTimeout:  cfg.Server.TimeoutIdle,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped")
}
