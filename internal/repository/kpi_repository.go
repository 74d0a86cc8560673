package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kpi-registry/internal/models"

	"github.com/lib/pq"
)

var (
	ErrKPINotFound     = errors.New("kpi not found")
	ErrVersionNotFound = errors.New("kpi version not found")
	// ErrVersionConflict signals that a concurrent update claimed the same
	// version number. The operation can be retried.
	ErrVersionConflict = errors.New("concurrent modification of kpi")
)

// KPIRepository handles KPI and KPI version database operations.
// Multi-write operations run in a single transaction so a KPI row and its
// version history can never diverge.
type KPIRepository struct {
	db *sql.DB
}

// NewKPIRepository creates a new KPI repository
func NewKPIRepository(db *sql.DB) *KPIRepository {
	return &KPIRepository{db: db}
}

// CreateWithInitialVersion inserts the KPI row, its topic links and version 1
// in one transaction
func (r *KPIRepository) CreateWithInitialVersion(kpi *models.KPI, topicIDs []uint, version *models.KPIVersion) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	now := time.Now()
	err = tx.QueryRow(`
		INSERT INTO kpis (name, definition, sql_query, status, data_specialist_id,
		                  business_specialist_id, created_by, last_updated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8)
		RETURNING id
	`, kpi.Name, kpi.Definition, kpi.SQLQuery, kpi.Status,
		kpi.DataSpecialistID, kpi.BusinessSpecialistID, kpi.CreatedBy, now,
	).Scan(&kpi.ID)
	if err != nil {
		return fmt.Errorf("failed to create kpi: %w", err)
	}
	kpi.LastUpdated = now
	kpi.CreatedAt = now
	kpi.UpdatedAt = now

	if err := replaceTopicLinks(tx, kpi.ID, topicIDs); err != nil {
		return err
	}

	version.KPIID = kpi.ID
	version.VersionNumber = 1
	if err := insertVersion(tx, version); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateWithNewVersion updates the KPI snapshot and appends the next version
// in one transaction. approverIDs receive a pending approval row each; when
// the list is non-empty the new version is created pending.
func (r *KPIRepository) UpdateWithNewVersion(kpi *models.KPI, topicIDs []uint, version *models.KPIVersion, approverIDs []uint) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE kpis
		SET name = $1, definition = $2, sql_query = $3, status = $4,
		    data_specialist_id = $5, business_specialist_id = $6,
		    last_updated = $7, updated_at = $7
		WHERE id = $8
	`, kpi.Name, kpi.Definition, kpi.SQLQuery, kpi.Status,
		kpi.DataSpecialistID, kpi.BusinessSpecialistID, now, kpi.ID)
	if err != nil {
		return fmt.Errorf("failed to update kpi: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrKPINotFound
	}
	kpi.LastUpdated = now
	kpi.UpdatedAt = now

	if _, err := tx.Exec(`DELETE FROM kpi_topics WHERE kpi_id = $1`, kpi.ID); err != nil {
		return fmt.Errorf("failed to clear topic links: %w", err)
	}
	if err := replaceTopicLinks(tx, kpi.ID, topicIDs); err != nil {
		return err
	}

	var maxVersion int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(version_number), 0) FROM kpi_versions WHERE kpi_id = $1
	`, kpi.ID).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("failed to read max version: %w", err)
	}

	version.KPIID = kpi.ID
	version.VersionNumber = maxVersion + 1
	if err := insertVersion(tx, version); err != nil {
		return err
	}

	for _, approverID := range approverIDs {
		_, err := tx.Exec(`
			INSERT INTO approvals (version_id, user_id, status)
			VALUES ($1, $2, 'pending')
		`, version.ID, approverID)
		if err != nil {
			return fmt.Errorf("failed to create approval: %w", err)
		}
	}

	return tx.Commit()
}

// insertVersion inserts a version row. A duplicate (kpi_id, version_number)
// means another writer committed first.
func insertVersion(tx *sql.Tx, version *models.KPIVersion) error {
	if version.AdditionalBlocks == "" {
		version.AdditionalBlocks = "[]"
	}
	err := tx.QueryRow(`
		INSERT INTO kpi_versions (kpi_id, version_number, definition, sql_query,
		                          data_specialist_id, business_specialist_id, topic_ids,
		                          additional_blocks, change_description, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, version.KPIID, version.VersionNumber, version.Definition, version.SQLQuery,
		version.DataSpecialistID, version.BusinessSpecialistID, pq.Array(version.TopicIDs),
		version.AdditionalBlocks, version.ChangeDescription, version.Status, version.CreatedBy,
	).Scan(&version.ID, &version.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to create kpi version: %w", err)
	}
	return nil
}

func replaceTopicLinks(tx *sql.Tx, kpiID uint, topicIDs []uint) error {
	for _, topicID := range topicIDs {
		if _, err := tx.Exec(`
			INSERT INTO kpi_topics (kpi_id, topic_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, kpiID, topicID); err != nil {
			return fmt.Errorf("failed to link topic %d: %w", topicID, err)
		}
	}
	return nil
}

// GetByID retrieves a KPI with its topics and full version history
func (r *KPIRepository) GetByID(id uint) (*models.KPI, error) {
	kpi := &models.KPI{}
	err := r.db.QueryRow(`
		SELECT k.id, k.name, k.definition, k.sql_query, k.status,
		       k.data_specialist_id, k.business_specialist_id, k.created_by,
		       k.last_updated, k.created_at, k.updated_at,
		       COALESCE(ds.full_name, ''), COALESCE(bs.full_name, '')
		FROM kpis k
		LEFT JOIN users ds ON k.data_specialist_id = ds.id
		LEFT JOIN users bs ON k.business_specialist_id = bs.id
		WHERE k.id = $1
	`, id).Scan(
		&kpi.ID, &kpi.Name, &kpi.Definition, &kpi.SQLQuery, &kpi.Status,
		&kpi.DataSpecialistID, &kpi.BusinessSpecialistID, &kpi.CreatedBy,
		&kpi.LastUpdated, &kpi.CreatedAt, &kpi.UpdatedAt,
		&kpi.DataSpecialistName, &kpi.BusinessSpecialistName,
	)
	if err == sql.ErrNoRows {
		return nil, ErrKPINotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kpi: %w", err)
	}

	topics, err := r.getTopicsForKPI(id)
	if err != nil {
		return nil, err
	}
	kpi.Topics = topics

	versions, err := r.GetVersions(id)
	if err != nil {
		return nil, err
	}
	kpi.Versions = versions

	return kpi, nil
}

// GetAll retrieves all KPIs with their topics, newest first
func (r *KPIRepository) GetAll() ([]models.KPI, error) {
	rows, err := r.db.Query(`
		SELECT k.id, k.name, k.definition, k.sql_query, k.status,
		       k.data_specialist_id, k.business_specialist_id, k.created_by,
		       k.last_updated, k.created_at, k.updated_at,
		       COALESCE(ds.full_name, ''), COALESCE(bs.full_name, '')
		FROM kpis k
		LEFT JOIN users ds ON k.data_specialist_id = ds.id
		LEFT JOIN users bs ON k.business_specialist_id = bs.id
		ORDER BY k.last_updated DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get kpis: %w", err)
	}
	defer rows.Close()

	var kpis []models.KPI
	for rows.Next() {
		var kpi models.KPI
		if err := rows.Scan(
			&kpi.ID, &kpi.Name, &kpi.Definition, &kpi.SQLQuery, &kpi.Status,
			&kpi.DataSpecialistID, &kpi.BusinessSpecialistID, &kpi.CreatedBy,
			&kpi.LastUpdated, &kpi.CreatedAt, &kpi.UpdatedAt,
			&kpi.DataSpecialistName, &kpi.BusinessSpecialistName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan kpi: %w", err)
		}
		kpis = append(kpis, kpi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range kpis {
		topics, err := r.getTopicsForKPI(kpis[i].ID)
		if err != nil {
			return nil, err
		}
		kpis[i].Topics = topics
	}

	return kpis, nil
}

// Delete deletes a KPI. Versions, approvals and topic links cascade.
func (r *KPIRepository) Delete(id uint) error {
	result, err := r.db.Exec(`DELETE FROM kpis WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete kpi: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrKPINotFound
	}

	return nil
}

// GetVersions retrieves the version history of a KPI ordered by ascending
// version number
func (r *KPIRepository) GetVersions(kpiID uint) ([]models.KPIVersion, error) {
	rows, err := r.db.Query(`
		SELECT v.id, v.kpi_id, v.version_number, v.definition, v.sql_query,
		       v.data_specialist_id, v.business_specialist_id, v.topic_ids,
		       v.additional_blocks, v.change_description, v.status, v.created_by,
		       v.created_at, COALESCE(u.full_name, '')
		FROM kpi_versions v
		LEFT JOIN users u ON v.created_by = u.id
		WHERE v.kpi_id = $1
		ORDER BY v.version_number ASC
	`, kpiID)
	if err != nil {
		return nil, fmt.Errorf("failed to get kpi versions: %w", err)
	}
	defer rows.Close()

	var versions []models.KPIVersion
	for rows.Next() {
		var version models.KPIVersion
		if err := rows.Scan(
			&version.ID, &version.KPIID, &version.VersionNumber,
			&version.Definition, &version.SQLQuery,
			&version.DataSpecialistID, &version.BusinessSpecialistID,
			pq.Array(&version.TopicIDs),
			&version.AdditionalBlocks, &version.ChangeDescription,
			&version.Status, &version.CreatedBy, &version.CreatedAt,
			&version.CreatedByName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan kpi version: %w", err)
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

// GetVersionByID retrieves a single version
func (r *KPIRepository) GetVersionByID(versionID uint) (*models.KPIVersion, error) {
	version := &models.KPIVersion{}
	err := r.db.QueryRow(`
		SELECT id, kpi_id, version_number, definition, sql_query,
		       data_specialist_id, business_specialist_id, topic_ids,
		       additional_blocks, change_description, status, created_by, created_at
		FROM kpi_versions
		WHERE id = $1
	`, versionID).Scan(
		&version.ID, &version.KPIID, &version.VersionNumber,
		&version.Definition, &version.SQLQuery,
		&version.DataSpecialistID, &version.BusinessSpecialistID,
		pq.Array(&version.TopicIDs),
		&version.AdditionalBlocks, &version.ChangeDescription,
		&version.Status, &version.CreatedBy, &version.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kpi version: %w", err)
	}

	return version, nil
}

func (r *KPIRepository) getTopicsForKPI(kpiID uint) ([]models.Topic, error) {
	rows, err := r.db.Query(`
		SELECT t.id, t.name, t.description, t.icon, t.color, t.created_at, t.updated_at
		FROM topics t
		JOIN kpi_topics kt ON t.id = kt.topic_id
		WHERE kt.kpi_id = $1
		ORDER BY t.name
	`, kpiID)
	if err != nil {
		return nil, fmt.Errorf("failed to get kpi topics: %w", err)
	}
	defer rows.Close()

	return scanTopics(rows)
}

// rollback rolls a transaction back unless it was committed
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Error("Failed to rollback transaction", "error", err)
	}
}
