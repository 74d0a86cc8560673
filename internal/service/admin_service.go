package service

import (
	"errors"
	"fmt"
	"log/slog"

	"kpi-registry/internal/auth"
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

var (
	ErrLastAdmin     = errors.New("cannot demote the last active admin")
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidStatus = errors.New("invalid status")
)

// AdminService handles user administration
type AdminService struct {
	userRepo    *repository.UserRepository
	sessionRepo *repository.SessionRepository
	authSvc     *auth.Service
}

// NewAdminService creates a new admin service
func NewAdminService(
	userRepo *repository.UserRepository,
	sessionRepo *repository.SessionRepository,
	authSvc *auth.Service,
) *AdminService {
	return &AdminService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		authSvc:     authSvc,
	}
}

// ListUsers retrieves all users, sanitized
func (s *AdminService) ListUsers(limit, offset int) ([]models.User, error) {
	users, err := s.userRepo.GetAll(limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

// SetUserStatus changes a user's account status. Deactivating the last
// active admin is refused. Rejecting a user revokes their sessions.
func (s *AdminService) SetUserStatus(targetID uint, status string) (*models.User, error) {
	if !models.ValidUserStatus(status) {
		return nil, ErrInvalidStatus
	}

	user, err := s.userRepo.GetByID(targetID)
	if err != nil {
		return nil, err
	}

	if status != models.UserStatusActive && user.HasAdminRights() {
		last, err := s.userRepo.IsLastActiveAdmin(targetID)
		if err != nil {
			return nil, err
		}
		if last {
			return nil, ErrLastAdmin
		}
	}

	if err := s.userRepo.UpdateStatus(targetID, status); err != nil {
		return nil, err
	}

	if status == models.UserStatusRejected {
		if err := s.sessionRepo.DeleteAllUserSessions(targetID); err != nil {
			slog.Error("Failed to revoke sessions of rejected user", "user_id", targetID, "error", err)
		}
	}

	user.Status = status
	return user.Sanitized(), nil
}

// SetUserRole changes a user's role. Demoting the last active admin is refused.
func (s *AdminService) SetUserRole(targetID uint, role string) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, ErrInvalidRole
	}

	user, err := s.userRepo.GetByID(targetID)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RoleAdmin && role != models.RoleAdmin && !user.IsAdmin {
		last, err := s.userRepo.IsLastActiveAdmin(targetID)
		if err != nil {
			return nil, err
		}
		if last {
			return nil, ErrLastAdmin
		}
	}

	if err := s.userRepo.UpdateRole(targetID, role); err != nil {
		return nil, err
	}

	user.Role = role
	return user.Sanitized(), nil
}

// SetAdminFlag toggles a user's admin flag independent of their role
func (s *AdminService) SetAdminFlag(targetID uint, isAdmin bool) (*models.User, error) {
	user, err := s.userRepo.GetByID(targetID)
	if err != nil {
		return nil, err
	}

	if !isAdmin && user.IsAdmin && user.Role != models.RoleAdmin {
		last, err := s.userRepo.IsLastActiveAdmin(targetID)
		if err != nil {
			return nil, err
		}
		if last {
			return nil, ErrLastAdmin
		}
	}

	if err := s.userRepo.UpdateAdminFlag(targetID, isAdmin); err != nil {
		return nil, err
	}

	user.IsAdmin = isAdmin
	return user.Sanitized(), nil
}

// InviteUser creates an active account with a generated password that must
// be changed on first login. The plaintext password is returned exactly once.
func (s *AdminService) InviteUser(email, fullName, role string) (*models.User, string, error) {
	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		return nil, "", ErrInvalidRole
	}

	existing, _ := s.userRepo.GetByEmail(email)
	if existing != nil {
		return nil, "", repository.ErrUserExists
	}

	password, err := auth.GenerateRandomPassword()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate password: %w", err)
	}

	passwordHash, err := s.authSvc.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:               email,
		PasswordHash:        passwordHash,
		FullName:            fullName,
		Role:                role,
		Status:              models.UserStatusActive,
		ForcePasswordChange: true,
	}

	if err := s.userRepo.Create(user); err != nil {
		return nil, "", err
	}

	return user.Sanitized(), password, nil
}
