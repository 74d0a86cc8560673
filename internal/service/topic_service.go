package service

import (
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// TopicService handles topic business logic
type TopicService struct {
	topicRepo *repository.TopicRepository
}

// NewTopicService creates a new topic service
func NewTopicService(topicRepo *repository.TopicRepository) *TopicService {
	return &TopicService{topicRepo: topicRepo}
}

// Create creates a new topic
func (s *TopicService) Create(topic *models.Topic) error {
	return s.topicRepo.Create(topic)
}

// Get retrieves a topic by ID
func (s *TopicService) Get(id uint) (*models.Topic, error) {
	return s.topicRepo.GetByID(id)
}

// List retrieves all topics
func (s *TopicService) List() ([]models.Topic, error) {
	return s.topicRepo.GetAll()
}

// Update updates a topic
func (s *TopicService) Update(topic *models.Topic) error {
	return s.topicRepo.Update(topic)
}

// Delete deletes a topic unless it is still referenced by a KPI
func (s *TopicService) Delete(id uint) error {
	return s.topicRepo.Delete(id)
}
