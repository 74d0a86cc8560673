package handlers

import (
	"log/slog"
	"net/http"

	"kpi-registry/internal/service"
)

// UserHandler exposes the user directory for authenticated users.
// Specialist pickers in the frontend need the list of accounts with
// their roles; everything sensitive is stripped.
type UserHandler struct {
	adminService *service.AdminService
}

// NewUserHandler creates a new user handler
func NewUserHandler(adminService *service.AdminService) *UserHandler {
	return &UserHandler{adminService: adminService}
}

// List lists user accounts
// @Summary List users
// @Description List user accounts for specialist assignment
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {array} models.User
// @Router /users [get]
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := parsePaginationParams(r)

	users, err := h.adminService.ListUsers(limit, offset)
	if err != nil {
		slog.Error("User listing failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, ErrMsgInternalError)
		return
	}

	respondWithJSON(w, http.StatusOK, users)
}
