package service

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kpi-registry/internal/auth"
	"kpi-registry/internal/config"
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// registerLockKey is the advisory lock key guarding the first-user
// admin bootstrap during registration
const registerLockKey = 271828

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountPending     = errors.New("account is pending approval")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
)

// AuthService handles authentication business logic
type AuthService struct {
	db          *sql.DB
	userRepo    *repository.UserRepository
	sessionRepo *repository.SessionRepository
	authSvc     *auth.Service
	lockout     config.LockoutConfig
}

// NewAuthService creates a new authentication service
func NewAuthService(
	db *sql.DB,
	userRepo *repository.UserRepository,
	sessionRepo *repository.SessionRepository,
	authSvc *auth.Service,
	lockout config.LockoutConfig,
) *AuthService {
	return &AuthService{
		db:          db,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		authSvc:     authSvc,
		lockout:     lockout,
	}
}

// Register registers a new user. Accounts start pending until an admin
// activates them; the very first account is activated and granted admin
// so the system can be bootstrapped.
func (s *AuthService) Register(email, password, fullName string) (*models.User, error) {
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}

	existing, _ := s.userRepo.GetByEmail(email)
	if existing != nil {
		return nil, repository.ErrUserExists
	}

	passwordHash, err := s.authSvc.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     fullName,
		Role:         models.RoleUser,
		Status:       models.UserStatusPending,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("Failed to rollback registration transaction", "error", err)
		}
	}()

	// Serialize registrations so exactly one account can observe the
	// empty table and claim the bootstrap admin role
	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, registerLockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire registration lock: %w", err)
	}

	userCount, err := s.userRepo.CountAllTx(tx)
	if err != nil {
		return nil, err
	}
	if userCount == 0 {
		user.Role = models.RoleAdmin
		user.IsAdmin = true
		user.Status = models.UserStatusActive
		slog.Info("Bootstrapping first account as admin", "email", email)
	}

	if err := s.userRepo.CreateTx(tx, user); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	return user.Sanitized(), nil
}

// Login authenticates a user and returns a session token.
// Failed attempts are counted; reaching the configured limit locks the
// account for the lockout duration. The counter reset and session insert
// commit together, so a login either fully succeeds or leaves no trace.
func (s *AuthService) Login(email, password, ipAddress, userAgent string) (string, *models.User, error) {
	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if user.IsLocked(time.Now()) {
		return "", nil, ErrAccountLocked
	}

	// Rejected accounts are indistinguishable from unknown ones
	if user.Status == models.UserStatusRejected {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.authSvc.VerifyPassword(user.PasswordHash, password); err != nil {
		attempts, ferr := s.userRepo.RecordLoginFailure(user.ID, s.lockout.MaxFailedAttempts, s.lockout.Duration)
		if ferr != nil {
			slog.Error("Failed to record login failure", "user_id", user.ID, "error", ferr)
		} else if attempts >= s.lockout.MaxFailedAttempts {
			slog.Warn("Account locked after repeated failures", "user_id", user.ID, "attempts", attempts)
		}
		return "", nil, ErrInvalidCredentials
	}

	if user.Status == models.UserStatusPending {
		return "", nil, ErrAccountPending
	}

	token, jti, err := s.authSvc.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	sessionID, err := auth.GenerateRandomToken(32)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	session := &models.Session{
		ID:             sessionID,
		UserID:         user.ID,
		JTI:            jti,
		ExpiresAt:      now.Add(s.authSvc.TokenExpiration()),
		LastActivityAt: now,
		CreatedAt:      now,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("Failed to rollback transaction", "error", err)
		}
	}()

	if err := s.userRepo.RecordLoginSuccess(tx, user.ID); err != nil {
		return "", nil, err
	}
	if err := s.sessionRepo.CreateTx(tx, session); err != nil {
		return "", nil, err
	}
	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("failed to commit login: %w", err)
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	return token, user.Sanitized(), nil
}

// Logout invalidates the session bound to the token. Expired tokens are
// accepted so stale sessions can still be dropped.
func (s *AuthService) Logout(token string) error {
	jti, err := s.authSvc.ExtractJTI(token)
	if err != nil {
		return err
	}
	return s.sessionRepo.DeleteByJTI(jti)
}

// ChangePassword verifies the current password, stores the new hash and
// drops every other session of the user
func (s *AuthService) ChangePassword(userID uint, currentPassword, newPassword, keepJTI string) error {
	if len(newPassword) < 8 {
		return ErrPasswordTooShort
	}

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return err
	}

	if err := s.authSvc.VerifyPassword(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}

	passwordHash, err := s.authSvc.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePassword(userID, passwordHash); err != nil {
		return err
	}

	if err := s.sessionRepo.DeleteUserSessionsExcept(userID, keepJTI); err != nil {
		slog.Error("Failed to drop other sessions after password change", "user_id", userID, "error", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(userID uint) (*models.User, error) {
	return s.userRepo.GetByID(userID)
}

// TokenExpiration returns the configured token lifetime
func (s *AuthService) TokenExpiration() time.Duration {
	return s.authSvc.TokenExpiration()
}
