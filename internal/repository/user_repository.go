package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kpi-registry/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

const userColumns = `id, email, password_hash, full_name, role, is_admin, status,
	       failed_login_attempts, locked_until, force_password_change, last_login_at,
	       created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row interface{ Scan(...interface{}) error }, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Role,
		&user.IsAdmin,
		&user.Status,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
		&user.ForcePasswordChange,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
}

// Create creates a new user
func (r *UserRepository) Create(user *models.User) error {
	return r.create(r.db, user)
}

// CreateTx creates a new user inside an existing transaction
func (r *UserRepository) CreateTx(tx *sql.Tx, user *models.User) error {
	return r.create(tx, user)
}

type rowQuerier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (r *UserRepository) create(q rowQuerier, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, full_name, role, is_admin, status,
		                   force_password_change, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	err := q.QueryRow(
		query,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Role,
		user.IsAdmin,
		user.Status,
		user.ForcePasswordChange,
		now,
		now,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(id uint) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user := &models.User{}
	err := scanUser(r.db.QueryRow(query, id), user)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user := &models.User{}
	err := scanUser(r.db.QueryRow(query, email), user)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetAll retrieves all users ordered by creation time
func (r *UserRepository) GetAll(limit, offset int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// CountAll returns the total number of users in the system
func (r *UserRepository) CountAll() (int, error) {
	return r.countAll(r.db)
}

// CountAllTx counts users inside an existing transaction
func (r *UserRepository) CountAllTx(tx *sql.Tx) (int, error) {
	return r.countAll(tx)
}

func (r *UserRepository) countAll(q rowQuerier) (int, error) {
	var count int
	if err := q.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count all users: %w", err)
	}
	return count, nil
}

// UpdatePassword updates a user's password hash and clears the
// force-password-change flag
func (r *UserRepository) UpdatePassword(userID uint, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, force_password_change = false, updated_at = $2
		WHERE id = $3
	`

	_, err := r.db.Exec(query, passwordHash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// UpdateStatus updates a user's account status
func (r *UserRepository) UpdateStatus(userID uint, status string) error {
	query := `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, status, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return checkAffected(result)
}

// UpdateRole updates a user's role
func (r *UserRepository) UpdateRole(userID uint, role string) error {
	query := `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, role, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return checkAffected(result)
}

// UpdateAdminFlag toggles a user's admin flag
func (r *UserRepository) UpdateAdminFlag(userID uint, isAdmin bool) error {
	query := `UPDATE users SET is_admin = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, isAdmin, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update admin flag: %w", err)
	}
	return checkAffected(result)
}

// RecordLoginSuccess resets the failure counters and stamps the last login
// inside the given transaction
func (r *UserRepository) RecordLoginSuccess(tx *sql.Tx, userID uint) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = $1, updated_at = $1
		WHERE id = $2
	`

	if _, err := tx.Exec(query, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to record login success: %w", err)
	}

	return nil
}

// RecordLoginFailure increments the failure counter and returns the new
// count. When the counter reaches maxAttempts the account is locked until
// now+lockDuration.
func (r *UserRepository) RecordLoginFailure(userID uint, maxAttempts int, lockDuration time.Duration) (int, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $1 THEN $2::timestamptz
		        ELSE locked_until
		    END,
		    updated_at = $3
		WHERE id = $4
		RETURNING failed_login_attempts
	`

	now := time.Now()
	var attempts int
	err := r.db.QueryRow(query, maxAttempts, now.Add(lockDuration), now, userID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}

	return attempts, nil
}

// CountActiveAdmins returns the number of active users with admin rights
func (r *UserRepository) CountActiveAdmins() (int, error) {
	query := `
		SELECT COUNT(*)
		FROM users
		WHERE status = 'active' AND (is_admin = true OR role = 'admin')
	`

	var count int
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active admins: %w", err)
	}

	return count, nil
}

// IsLastActiveAdmin checks if a user is the last active admin in the system
func (r *UserRepository) IsLastActiveAdmin(userID uint) (bool, error) {
	count, err := r.CountActiveAdmins()
	if err != nil {
		return false, err
	}

	if count != 1 {
		return false, nil
	}

	query := `
		SELECT EXISTS(
			SELECT 1 FROM users
			WHERE id = $1 AND status = 'active' AND (is_admin = true OR role = 'admin')
		)
	`

	var isAdmin bool
	if err := r.db.QueryRow(query, userID).Scan(&isAdmin); err != nil {
		return false, fmt.Errorf("failed to check if user is admin: %w", err)
	}

	return isAdmin, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
