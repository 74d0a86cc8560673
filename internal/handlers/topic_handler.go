package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kpi-registry/internal/middleware"
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/pkg/validator"
)

// TopicHandler handles topic requests
type TopicHandler struct {
	topicService *service.TopicService
	auditMw      *middleware.AuditMiddleware
}

// NewTopicHandler creates a new topic handler
func NewTopicHandler(topicService *service.TopicService, auditMw *middleware.AuditMiddleware) *TopicHandler {
	return &TopicHandler{
		topicService: topicService,
		auditMw:      auditMw,
	}
}

// TopicRequest carries the editable fields of a topic
type TopicRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

// Create creates a new topic
// @Summary Create a topic
// @Tags Topics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TopicRequest true "Topic fields"
// @Success 201 {object} models.Topic
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 409 {object} map[string]string "Topic name already exists"
// @Router /topics [post]
func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	var req TopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	topic := &models.Topic{
		Name:        validator.SanitizeString(req.Name),
		Description: req.Description,
		Icon:        req.Icon,
		Color:       req.Color,
	}

	if err := h.topicService.Create(topic); err != nil {
		if errors.Is(err, repository.ErrTopicExists) {
			respondWithError(w, http.StatusConflict, "Topic name is already in use")
			return
		}
		slog.Error("Topic creation failed", "name", req.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	_ = h.auditMw.LogAction(&userID, "topic.created", "topics", "Created topic "+topic.Name, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusCreated, topic)
}

// List lists all topics
// @Summary List topics
// @Tags Topics
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Topic
// @Router /topics [get]
func (h *TopicHandler) List(w http.ResponseWriter, r *http.Request) {
	topics, err := h.topicService.List()
	if err != nil {
		slog.Error("Topic listing failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, topics)
}

// Get retrieves a single topic
// @Summary Get a topic
// @Tags Topics
// @Produce json
// @Security BearerAuth
// @Param id path int true "Topic ID"
// @Success 200 {object} models.Topic
// @Failure 404 {object} map[string]string "Topic not found"
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	topic, err := h.topicService.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrTopicNotFound) {
			respondWithError(w, http.StatusNotFound, ErrMsgTopicNotFound)
			return
		}
		slog.Error("Topic lookup failed", "topic_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, topic)
}

// Update updates a topic
// @Summary Update a topic
// @Tags Topics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Topic ID"
// @Param request body TopicRequest true "Topic fields"
// @Success 200 {object} models.Topic
// @Failure 404 {object} map[string]string "Topic not found"
// @Failure 409 {object} map[string]string "Topic name already exists"
// @Router /topics/{id} [put]
func (h *TopicHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	var req TopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	topic := &models.Topic{
		ID:          id,
		Name:        validator.SanitizeString(req.Name),
		Description: req.Description,
		Icon:        req.Icon,
		Color:       req.Color,
	}

	if err := h.topicService.Update(topic); err != nil {
		switch {
		case errors.Is(err, repository.ErrTopicNotFound):
			respondWithError(w, http.StatusNotFound, ErrMsgTopicNotFound)
		case errors.Is(err, repository.ErrTopicExists):
			respondWithError(w, http.StatusConflict, "Topic name is already in use")
		default:
			slog.Error("Topic update failed", "topic_id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		}
		return
	}

	_ = h.auditMw.LogAction(&userID, "topic.updated", "topics", "Updated topic "+topic.Name, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, topic)
}

// Delete removes a topic. Topics still referenced by a KPI cannot be deleted.
// @Summary Delete a topic
// @Tags Topics
// @Produce json
// @Security BearerAuth
// @Param id path int true "Topic ID"
// @Success 200 {object} map[string]string "Topic deleted"
// @Failure 404 {object} map[string]string "Topic not found"
// @Failure 409 {object} map[string]string "Topic still in use"
// @Router /topics/{id} [delete]
func (h *TopicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	if err := h.topicService.Delete(id); err != nil {
		switch {
		case errors.Is(err, repository.ErrTopicNotFound):
			respondWithError(w, http.StatusNotFound, ErrMsgTopicNotFound)
		case errors.Is(err, repository.ErrTopicInUse):
			respondWithError(w, http.StatusConflict, "Topic is still assigned to a KPI")
		default:
			slog.Error("Topic deletion failed", "topic_id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		}
		return
	}

	_ = h.auditMw.LogAction(&userID, "topic.deleted", "topics", "Deleted topic", getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Topic deleted"})
}
