package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kpi-registry/internal/models"
)

// ErrApprovalNotFound signals that no pending approval exists for the
// given version and reviewer
var ErrApprovalNotFound = errors.New("approval not found")

// ApprovalRepository handles approval database operations
type ApprovalRepository struct {
	db *sql.DB
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// ListPendingByUser retrieves a reviewer's open approvals joined with the
// KPI and version they belong to, oldest first
func (r *ApprovalRepository) ListPendingByUser(userID uint) ([]models.PendingApproval, error) {
	rows, err := r.db.Query(`
		SELECT a.id, a.version_id, a.user_id, a.status, a.decided_at, a.created_at,
		       k.id, k.name, v.version_number, v.change_description,
		       COALESCE(u.full_name, '')
		FROM approvals a
		JOIN kpi_versions v ON a.version_id = v.id
		JOIN kpis k ON v.kpi_id = k.id
		LEFT JOIN users u ON v.created_by = u.id
		WHERE a.user_id = $1 AND a.status = 'pending'
		ORDER BY a.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []models.PendingApproval
	for rows.Next() {
		var pa models.PendingApproval
		if err := rows.Scan(
			&pa.ID, &pa.VersionID, &pa.UserID, &pa.Status, &pa.DecidedAt, &pa.CreatedAt,
			&pa.KPIID, &pa.KPIName, &pa.VersionNumber, &pa.ChangeDescription,
			&pa.RequestedByName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}
		approvals = append(approvals, pa)
	}

	return approvals, rows.Err()
}

// GetByVersionID retrieves all approvals for a version
func (r *ApprovalRepository) GetByVersionID(versionID uint) ([]models.Approval, error) {
	rows, err := r.db.Query(`
		SELECT id, version_id, user_id, status, decided_at, created_at
		FROM approvals
		WHERE version_id = $1
		ORDER BY created_at ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approvals: %w", err)
	}
	defer rows.Close()

	var approvals []models.Approval
	for rows.Next() {
		var approval models.Approval
		if err := rows.Scan(
			&approval.ID, &approval.VersionID, &approval.UserID,
			&approval.Status, &approval.DecidedAt, &approval.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}

	return approvals, rows.Err()
}

// Approve records a reviewer's approval. When it was the last pending
// approval of the version, the version and its KPI transition to approved.
// Everything happens in one transaction.
func (r *ApprovalRepository) Approve(versionID, userID uint) (*models.KPIVersion, error) {
	return r.decide(versionID, userID, models.ApprovalStatusApproved)
}

// Reject records a reviewer's rejection. A single rejection immediately
// marks the version and its KPI rejected.
func (r *ApprovalRepository) Reject(versionID, userID uint) (*models.KPIVersion, error) {
	return r.decide(versionID, userID, models.ApprovalStatusRejected)
}

func (r *ApprovalRepository) decide(versionID, userID uint, decision string) (*models.KPIVersion, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	// Lock the version row first. Concurrent deciders serialize here, so
	// the pending count below always sees committed sibling decisions.
	var currentStatus string
	var kpiID uint
	err = tx.QueryRow(`
		SELECT status, kpi_id FROM kpi_versions WHERE id = $1 FOR UPDATE
	`, versionID).Scan(&currentStatus, &kpiID)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock version: %w", err)
	}
	// Settled versions are terminal and take no further decisions
	if currentStatus != models.VersionStatusPending {
		return nil, ErrApprovalNotFound
	}

	// Claim the reviewer's pending approval row
	result, err := tx.Exec(`
		UPDATE approvals
		SET status = $1, decided_at = $2
		WHERE version_id = $3 AND user_id = $4 AND status = 'pending'
	`, decision, time.Now(), versionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrApprovalNotFound
	}

	var versionStatus string
	if decision == models.ApprovalStatusRejected {
		versionStatus = models.VersionStatusRejected

		// The rejection settles the version; the other reviewers' open
		// requests are void and must not linger in their queues
		if _, err := tx.Exec(`
			DELETE FROM approvals WHERE version_id = $1 AND status = 'pending'
		`, versionID); err != nil {
			return nil, fmt.Errorf("failed to clear outstanding approvals: %w", err)
		}
	} else {
		var remaining int
		err = tx.QueryRow(`
			SELECT COUNT(*) FROM approvals
			WHERE version_id = $1 AND status = 'pending'
		`, versionID).Scan(&remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to count pending approvals: %w", err)
		}
		if remaining > 0 {
			// Other reviewers still outstanding; version stays pending
			version, err := versionStateTx(tx, versionID)
			if err != nil {
				return nil, err
			}
			return version, tx.Commit()
		}
		versionStatus = models.VersionStatusApproved
	}

	if _, err := tx.Exec(`
		UPDATE kpi_versions SET status = $1 WHERE id = $2
	`, versionStatus, versionID); err != nil {
		return nil, fmt.Errorf("failed to update version status: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE kpis SET status = $1, updated_at = $2 WHERE id = $3
	`, versionStatus, time.Now(), kpiID); err != nil {
		return nil, fmt.Errorf("failed to update kpi status: %w", err)
	}

	version, err := versionStateTx(tx, versionID)
	if err != nil {
		return nil, err
	}

	return version, tx.Commit()
}

func versionStateTx(tx *sql.Tx, versionID uint) (*models.KPIVersion, error) {
	version := &models.KPIVersion{}
	err := tx.QueryRow(`
		SELECT id, kpi_id, version_number, status, change_description, created_at
		FROM kpi_versions
		WHERE id = $1
	`, versionID).Scan(
		&version.ID, &version.KPIID, &version.VersionNumber,
		&version.Status, &version.ChangeDescription, &version.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version state: %w", err)
	}
	return version, nil
}

// CountPendingByReviewer returns open approval counts per reviewer.
// Used by the notifier poll.
func (r *ApprovalRepository) CountPendingByReviewer() (map[uint]int, error) {
	rows, err := r.db.Query(`
		SELECT user_id, COUNT(*)
		FROM approvals
		WHERE status = 'pending'
		GROUP BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending approvals: %w", err)
	}
	defer rows.Close()

	counts := make(map[uint]int)
	for rows.Next() {
		var userID uint
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan pending count: %w", err)
		}
		counts[userID] = count
	}

	return counts, rows.Err()
}
