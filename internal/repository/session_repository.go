package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kpi-registry/internal/models"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// SessionRepository handles session database operations
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(session *models.Session) error {
	return r.create(r.db, session)
}

// CreateTx creates a new session inside an existing transaction
func (r *SessionRepository) CreateTx(tx *sql.Tx, session *models.Session) error {
	return r.create(tx, session)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (r *SessionRepository) create(e execer, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, jti, expires_at, last_activity_at, created_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := e.Exec(
		query,
		session.ID,
		session.UserID,
		session.JTI,
		session.ExpiresAt,
		session.LastActivityAt,
		session.CreatedAt,
		session.IPAddress,
		session.UserAgent,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByJTI retrieves an unexpired session by JTI
func (r *SessionRepository) GetByJTI(jti string) (*models.Session, error) {
	query := `
		SELECT id, user_id, jti, expires_at, last_activity_at, created_at, ip_address, user_agent
		FROM sessions
		WHERE jti = $1 AND expires_at > $2
	`

	session := &models.Session{}
	err := r.db.QueryRow(query, jti, time.Now()).Scan(
		&session.ID,
		&session.UserID,
		&session.JTI,
		&session.ExpiresAt,
		&session.LastActivityAt,
		&session.CreatedAt,
		&session.IPAddress,
		&session.UserAgent,
	)

	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetByUserID retrieves all active sessions for a user
func (r *SessionRepository) GetByUserID(userID uint) ([]models.Session, error) {
	query := `
		SELECT id, user_id, jti, expires_at, last_activity_at, created_at, ip_address, user_agent
		FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.JTI,
			&session.ExpiresAt,
			&session.LastActivityAt,
			&session.CreatedAt,
			&session.IPAddress,
			&session.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// UpdateLastActivity updates the last activity timestamp for a session
func (r *SessionRepository) UpdateLastActivity(sessionID string) error {
	query := `UPDATE sessions SET last_activity_at = $1 WHERE id = $2`

	_, err := r.db.Exec(query, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}

	return nil
}

// DeleteByJTI deletes a session by JTI
func (r *SessionRepository) DeleteByJTI(jti string) error {
	query := `DELETE FROM sessions WHERE jti = $1`
	_, err := r.db.Exec(query, jti)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions deletes all sessions for a user
func (r *SessionRepository) DeleteAllUserSessions(userID uint) error {
	query := `DELETE FROM sessions WHERE user_id = $1`
	_, err := r.db.Exec(query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteUserSessionsExcept deletes all sessions for a user except the one
// with the given JTI. Used when a password change should drop other devices.
func (r *SessionRepository) DeleteUserSessionsExcept(userID uint, keepJTI string) error {
	query := `DELETE FROM sessions WHERE user_id = $1 AND jti <> $2`
	_, err := r.db.Exec(query, userID, keepJTI)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions deletes all expired sessions
func (r *SessionRepository) DeleteExpiredSessions() error {
	query := `DELETE FROM sessions WHERE expires_at < $1`
	_, err := r.db.Exec(query, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return nil
}
