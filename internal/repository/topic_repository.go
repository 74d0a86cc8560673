package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kpi-registry/internal/models"

	"github.com/lib/pq"
)

var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrTopicExists   = errors.New("topic already exists")
	ErrTopicInUse    = errors.New("topic is referenced by a KPI")
)

// TopicRepository handles topic database operations
type TopicRepository struct {
	db *sql.DB
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(db *sql.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// Create creates a new topic
func (r *TopicRepository) Create(topic *models.Topic) error {
	query := `
		INSERT INTO topics (name, description, icon, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now()
	err := r.db.QueryRow(query, topic.Name, topic.Description, topic.Icon, topic.Color, now, now).Scan(&topic.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTopicExists
		}
		return fmt.Errorf("failed to create topic: %w", err)
	}

	topic.CreatedAt = now
	topic.UpdatedAt = now
	return nil
}

// GetByID retrieves a topic by ID
func (r *TopicRepository) GetByID(id uint) (*models.Topic, error) {
	query := `
		SELECT id, name, description, icon, color, created_at, updated_at
		FROM topics
		WHERE id = $1
	`

	topic := &models.Topic{}
	err := r.db.QueryRow(query, id).Scan(
		&topic.ID,
		&topic.Name,
		&topic.Description,
		&topic.Icon,
		&topic.Color,
		&topic.CreatedAt,
		&topic.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}

	return topic, nil
}

// GetAll retrieves all topics ordered by name
func (r *TopicRepository) GetAll() ([]models.Topic, error) {
	query := `
		SELECT id, name, description, icon, color, created_at, updated_at
		FROM topics
		ORDER BY name
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get topics: %w", err)
	}
	defer rows.Close()

	return scanTopics(rows)
}

// GetByIDs retrieves the topics for the given IDs. Returns ErrTopicNotFound
// when any of the requested IDs does not exist.
func (r *TopicRepository) GetByIDs(ids []uint) ([]models.Topic, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	intIDs := make([]int64, len(ids))
	for i, id := range ids {
		intIDs[i] = int64(id)
	}

	query := `
		SELECT id, name, description, icon, color, created_at, updated_at
		FROM topics
		WHERE id = ANY($1)
		ORDER BY name
	`

	rows, err := r.db.Query(query, pq.Array(intIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get topics: %w", err)
	}
	defer rows.Close()

	topics, err := scanTopics(rows)
	if err != nil {
		return nil, err
	}
	if len(topics) != len(ids) {
		return nil, ErrTopicNotFound
	}

	return topics, nil
}

// Update updates a topic
func (r *TopicRepository) Update(topic *models.Topic) error {
	query := `
		UPDATE topics
		SET name = $1, description = $2, icon = $3, color = $4, updated_at = $5
		WHERE id = $6
	`

	topic.UpdatedAt = time.Now()
	result, err := r.db.Exec(query, topic.Name, topic.Description, topic.Icon, topic.Color, topic.UpdatedAt, topic.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTopicExists
		}
		return fmt.Errorf("failed to update topic: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTopicNotFound
	}

	return nil
}

// Delete deletes a topic. A topic still referenced by a KPI is refused.
func (r *TopicRepository) Delete(id uint) error {
	result, err := r.db.Exec(`DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrTopicInUse
		}
		return fmt.Errorf("failed to delete topic: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTopicNotFound
	}

	return nil
}

func scanTopics(rows *sql.Rows) ([]models.Topic, error) {
	var topics []models.Topic
	for rows.Next() {
		var topic models.Topic
		if err := rows.Scan(
			&topic.ID,
			&topic.Name,
			&topic.Description,
			&topic.Icon,
			&topic.Color,
			&topic.CreatedAt,
			&topic.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, topic)
	}

	return topics, rows.Err()
}
