package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kpi-registry/internal/middleware"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
	"kpi-registry/pkg/validator"
)

// KPIHandler handles KPI requests
type KPIHandler struct {
	kpiService *service.KPIService
	auditMw    *middleware.AuditMiddleware
}

// NewKPIHandler creates a new KPI handler
func NewKPIHandler(kpiService *service.KPIService, auditMw *middleware.AuditMiddleware) *KPIHandler {
	return &KPIHandler{
		kpiService: kpiService,
		auditMw:    auditMw,
	}
}

// KPIRequest carries the editable fields of a KPI
type KPIRequest struct {
	Name                 string `json:"name" validate:"required"`
	Definition           string `json:"definition" validate:"required"`
	SQLQuery             string `json:"sql_query"`
	DataSpecialistID     *uint  `json:"data_specialist_id"`
	BusinessSpecialistID *uint  `json:"business_specialist_id"`
	TopicIDs             []uint `json:"topic_ids"`
	AdditionalBlocks     string `json:"additional_blocks"`
	ChangeDescription    string `json:"change_description"`
}

func (req *KPIRequest) toInput() service.KPIInput {
	return service.KPIInput{
		Name:                 validator.SanitizeString(req.Name),
		Definition:           req.Definition,
		SQLQuery:             req.SQLQuery,
		DataSpecialistID:     req.DataSpecialistID,
		BusinessSpecialistID: req.BusinessSpecialistID,
		TopicIDs:             req.TopicIDs,
		AdditionalBlocks:     req.AdditionalBlocks,
	}
}

// Create creates a new KPI
// @Summary Create a KPI
// @Description Create a KPI with its initial version
// @Tags KPIs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body KPIRequest true "KPI fields"
// @Success 201 {object} models.KPI
// @Failure 400 {object} map[string]string "Invalid request or unknown reference"
// @Router /kpis [post]
func (h *KPIHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	var req KPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	kpi, err := h.kpiService.Create(userID, req.toInput())
	if err != nil {
		if errors.Is(err, repository.ErrTopicNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("KPI creation failed", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	slog.Info("KPI created", "kpi_id", kpi.ID, "name", kpi.Name, "user_id", userID)
	_ = h.auditMw.LogAction(&userID, "kpi.created", "kpis", "Created KPI "+kpi.Name, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusCreated, kpi)
}

// List lists all KPIs
// @Summary List KPIs
// @Description List all KPIs, most recently updated first
// @Tags KPIs
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.KPI
// @Router /kpis [get]
func (h *KPIHandler) List(w http.ResponseWriter, r *http.Request) {
	kpis, err := h.kpiService.List()
	if err != nil {
		slog.Error("KPI listing failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, kpis)
}

// Get retrieves a single KPI with topics and version history
// @Summary Get a KPI
// @Tags KPIs
// @Produce json
// @Security BearerAuth
// @Param id path int true "KPI ID"
// @Success 200 {object} models.KPI
// @Failure 404 {object} map[string]string "KPI not found"
// @Router /kpis/{id} [get]
func (h *KPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	kpi, err := h.kpiService.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrKPINotFound) {
			respondWithError(w, http.StatusNotFound, ErrMsgKPINotFound)
			return
		}
		slog.Error("KPI lookup failed", "kpi_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, kpi)
}

// Update creates a new version of a KPI
// @Summary Update a KPI
// @Description Record a new version. When both specialists are assigned the version starts pending and approval requests are created.
// @Tags KPIs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "KPI ID"
// @Param request body KPIRequest true "KPI fields"
// @Success 200 {object} models.KPIVersion
// @Failure 400 {object} map[string]string "Invalid request or unknown reference"
// @Failure 404 {object} map[string]string "KPI not found"
// @Failure 409 {object} map[string]string "Concurrent modification, retry"
// @Router /kpis/{id} [put]
func (h *KPIHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	var req KPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := h.kpiService.Update(userID, id, req.toInput(), req.ChangeDescription)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrKPINotFound):
			respondWithError(w, http.StatusNotFound, ErrMsgKPINotFound)
		case errors.Is(err, repository.ErrVersionConflict):
			respondWithError(w, http.StatusConflict, "KPI was modified concurrently, please retry")
		case errors.Is(err, repository.ErrTopicNotFound), errors.Is(err, repository.ErrUserNotFound):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("KPI update failed", "kpi_id", id, "user_id", userID, "error", err)
			respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		}
		return
	}

	slog.Info("KPI updated", "kpi_id", id, "version", version.VersionNumber, "status", version.Status, "user_id", userID)
	_ = h.auditMw.LogAction(&userID, "kpi.updated", "kpis", "Created version of KPI", getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, version)
}

// Delete removes a KPI together with its versions and approvals
// @Summary Delete a KPI
// @Tags KPIs
// @Produce json
// @Security BearerAuth
// @Param id path int true "KPI ID"
// @Success 200 {object} map[string]string "KPI deleted"
// @Failure 404 {object} map[string]string "KPI not found"
// @Router /kpis/{id} [delete]
func (h *KPIHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

	if err := h.kpiService.Delete(id); err != nil {
		if errors.Is(err, repository.ErrKPINotFound) {
			respondWithError(w, http.StatusNotFound, ErrMsgKPINotFound)
			return
		}
		slog.Error("KPI deletion failed", "kpi_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	slog.Info("KPI deleted", "kpi_id", id, "user_id", userID)
	_ = h.auditMw.LogAction(&userID, "kpi.deleted", "kpis", "Deleted KPI", getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "KPI deleted"})
}

// ListVersions returns the full version history of a KPI
// @Summary List KPI versions
// @Tags KPIs
// @Produce json
// @Security BearerAuth
// @Param id path int true "KPI ID"
// @Success 200 {array} models.KPIVersion
// @Failure 404 {object} map[string]string "KPI not found"
// @Router /kpis/{id}/versions [get]
func (h *KPIHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	kpi, err := h.kpiService.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrKPINotFound) {
			respondWithError(w, http.StatusNotFound, ErrMsgKPINotFound)
			return
		}
		slog.Error("KPI lookup failed", "kpi_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, kpi.Versions)
}
