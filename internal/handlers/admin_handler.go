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

// AdminHandler handles user administration requests
type AdminHandler struct {
	adminService *service.AdminService
	auditMw      *middleware.AuditMiddleware
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(adminService *service.AdminService, auditMw *middleware.AuditMiddleware) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		auditMw:      auditMw,
	}
}

// SetStatusRequest represents an account status change
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active pending rejected"`
}

// SetRoleRequest represents a role change
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin data_specialist business_specialist user"`
}

// SetAdminFlagRequest represents an admin flag change
type SetAdminFlagRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// InviteUserRequest represents an admin-side account creation
type InviteUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin data_specialist business_specialist user"`
}

// ListUsers lists all user accounts for administration
// @Summary List users (admin)
// @Tags Administration
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {array} models.User
// @Failure 403 {object} map[string]string "Admin rights required"
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := parsePaginationParams(r)

	users, err := h.adminService.ListUsers(limit, offset)
	if err != nil {
		slog.Error("User listing failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, users)
}

// SetStatus changes a user's account status
// @Summary Change account status
// @Description Activate, reject or re-pend an account. Rejecting revokes all of the user's sessions. The last active admin cannot be deactivated.
// @Tags Administration
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body SetStatusRequest true "New status"
// @Success 200 {object} models.User
// @Failure 400 {object} map[string]string "Unknown status"
// @Failure 404 {object} map[string]string "User not found"
// @Failure 409 {object} map[string]string "Would remove the last active admin"
// @Router /admin/users/{id}/status [put]
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	targetID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.adminService.SetUserStatus(targetID, req.Status)
	if err != nil {
		h.respondAdminError(w, err)
		return
	}

	slog.Info("User status changed", "admin_id", adminID, "user_id", targetID, "status", req.Status)
	_ = h.auditMw.LogAction(&adminID, "user.status_changed_to_"+req.Status, "users", "Changed status of user "+user.Email, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, user)
}

// SetRole changes a user's role
// @Summary Change user role
// @Description Assign one of the known roles. Demoting the last active admin is refused.
// @Tags Administration
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body SetRoleRequest true "New role"
// @Success 200 {object} models.User
// @Failure 400 {object} map[string]string "Unknown role"
// @Failure 404 {object} map[string]string "User not found"
// @Failure 409 {object} map[string]string "Would remove the last active admin"
// @Router /admin/users/{id}/role [put]
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	targetID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.adminService.SetUserRole(targetID, req.Role)
	if err != nil {
		h.respondAdminError(w, err)
		return
	}

	slog.Info("User role changed", "admin_id", adminID, "user_id", targetID, "role", req.Role)
	_ = h.auditMw.LogAction(&adminID, "user.role_changed_to_"+req.Role, "users", "Changed role of user "+user.Email, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, user)
}

// SetAdminFlag grants or revokes admin rights independent of the role
// @Summary Change admin flag
// @Tags Administration
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body SetAdminFlagRequest true "Admin flag"
// @Success 200 {object} models.User
// @Failure 404 {object} map[string]string "User not found"
// @Failure 409 {object} map[string]string "Would remove the last active admin"
// @Router /admin/users/{id}/admin [put]
func (h *AdminHandler) SetAdminFlag(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	targetID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidID)
		return
	}

	var req SetAdminFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	user, err := h.adminService.SetAdminFlag(targetID, req.IsAdmin)
	if err != nil {
		h.respondAdminError(w, err)
		return
	}

	action := "user.admin_revoked"
	if req.IsAdmin {
		action = "user.admin_granted"
	}
	slog.Info("User admin flag changed", "admin_id", adminID, "user_id", targetID, "is_admin", req.IsAdmin)
	_ = h.auditMw.LogAction(&adminID, action, "users", "Changed admin flag of user "+user.Email, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusOK, user)
}

// InviteUser creates an active account with a generated password.
// The password is returned exactly once and must be changed at first login.
// @Summary Invite a user
// @Tags Administration
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InviteUserRequest true "Invitation"
// @Success 201 {object} map[string]interface{} "Created user and one-time password"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 409 {object} map[string]string "Email already registered"
// @Router /admin/users/invite [post]
func (h *AdminHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, ErrMsgUnauthorized)
		return
	}

	var req InviteUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrMsgInvalidRequestBody)
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, password, err := h.adminService.InviteUser(validator.SanitizeEmail(req.Email), validator.SanitizeString(req.FullName), req.Role)
	if err != nil {
		h.respondAdminError(w, err)
		return
	}

	slog.Info("User invited", "admin_id", adminID, "user_id", user.ID, "email", user.Email, "role", user.Role)
	_ = h.auditMw.LogAction(&adminID, "user.invited", "users", "Invited user "+user.Email, getIP(r), r.UserAgent())

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"user":             user,
		"initial_password": password,
	})
}

// respondAdminError maps admin service errors to HTTP status codes
func (h *AdminHandler) respondAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, ErrMsgUserNotFound)
	case errors.Is(err, repository.ErrUserExists):
		respondWithError(w, http.StatusConflict, "Email is already registered")
	case errors.Is(err, service.ErrLastAdmin):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRole), errors.Is(err, service.ErrInvalidStatus):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Admin operation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
	}
}
