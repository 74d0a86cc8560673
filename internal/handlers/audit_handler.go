package handlers

import (
	"log/slog"
	"net/http"

	"kpi-registry/internal/service"
)

// AuditHandler exposes the audit trail to administrators
type AuditHandler struct {
	auditService *service.AuditService
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// List lists audit log entries, newest first
// @Summary List audit logs
// @Tags Administration
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size (max 100)"
// @Param user_id query int false "Filter by acting user"
// @Success 200 {array} models.AuditLog
// @Failure 403 {object} map[string]string "Admin rights required"
// @Router /admin/audit-logs [get]
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := parsePaginationParams(r)

	if userIDStr := r.URL.Query().Get("user_id"); userIDStr != "" {
		userID, err := parseUintQuery(userIDStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
			return
		}

		logs, err := h.auditService.ListByUser(userID, limit, offset)
		if err != nil {
			slog.Error("Audit log listing failed", "user_id", userID, "error", err)
			respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
			return
		}
		respondWithJSON(w, http.StatusOK, logs)
		return
	}

	logs, err := h.auditService.List(limit, offset)
	if err != nil {
		slog.Error("Audit log listing failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, logs)
}
