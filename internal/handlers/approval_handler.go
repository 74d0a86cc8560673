package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"kpi-registry/internal/middleware"
	"kpi-registry/internal/models"
	"kpi-registry/internal/notifier"
	"kpi-registry/internal/repository"
	"kpi-registry/internal/service"
)

// ApprovalHandler handles approval requests
type ApprovalHandler struct {
	approvalService *service.ApprovalService
	notifier        *notifier.Notifier
	auditMw         *middleware.AuditMiddleware
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(approvalService *service.ApprovalService, n *notifier.Notifier, auditMw *middleware.AuditMiddleware) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
		notifier:        n,
		auditMw:         auditMw,
	}
}

// ListPending returns the authenticated reviewer's open approval requests
// @Summary List pending approvals
// @Description List the KPI versions waiting for the authenticated user's decision, oldest first
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.PendingApproval
// @Router /approvals [get]
func (h *ApprovalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	pending, err := h.approvalService.ListPending(userID)
	if err != nil {
		slog.Error("Pending approval listing failed", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, pending)
}

// Approve records an approval on a pending KPI version
// @Summary Approve a KPI version
// @Description Record the reviewer's approval. When every requested reviewer has approved, the version and its KPI become approved.
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Param id path int true "Version ID"
// @Success 200 {object} models.KPIVersion
// @Failure 404 {object} map[string]string "No pending approval for this user and version"
// @Router /approvals/{id}/approve [post]
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Reject records a rejection on a pending KPI version
// @Summary Reject a KPI version
// @Description Record the reviewer's rejection. A single rejection settles the version as rejected.
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Param id path int true "Version ID"
// @Success 200 {object} models.KPIVersion
// @Failure 404 {object} map[string]string "No pending approval for this user and version"
// @Router /approvals/{id}/reject [post]
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	versionID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	var version *models.KPIVersion
	if approve {
		version, err = h.approvalService.Approve(versionID, userID)
	} else {
		version, err = h.approvalService.Reject(versionID, userID)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrApprovalNotFound), errors.Is(err, repository.ErrVersionNotFound):
			respondWithError(w, http.StatusNotFound, ErrMsgApprovalNotFound)
		default:
			slog.Error("Approval decision failed", "version_id", versionID, "user_id", userID, "error", err)
			respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		}
		return
	}

	action := "approval.rejected"
	if approve {
		action = "approval.approved"
	}
	slog.Info("Approval decided", "version_id", versionID, "user_id", userID, "action", action, "version_status", version.Status)
	_ = h.auditMw.LogAction(&userID, action, "approvals", "Decided on KPI version", getIP(r), r.UserAgent())

	h.notifier.NotifyDecision(version, userID)

	respondWithJSON(w, http.StatusOK, version)
}
