package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// AdminServiceInterface defines the account administration contract
type AdminServiceInterface interface {
	SetRole(ctx context.Context, actorID, targetID, role string, client models.ClientInfo) (*models.UserView, error)
	SetActive(ctx context.Context, actorID, targetID string, active bool, client models.ClientInfo) (*models.UserView, error)
}

// AdminHandler handles /api/admin/users requests
type AdminHandler struct {
	service AdminServiceInterface
	ips     *pkghttp.ClientIPResolver
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface, ips *pkghttp.ClientIPResolver, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, ips: ips, logger: logger}
}

// SetRole handles PUT /api/admin/users/{id}/role
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req SetRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	user, err := h.service.SetRole(r.Context(), claims.UserID, targetID, req.Role, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

// SetStatus handles PUT /api/admin/users/{id}/status
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	user, err := h.service.SetActive(r.Context(), claims.UserID, targetID, *req.IsActive, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteValidationError(w, "id", "must be a valid user id", nil)
		return "", false
	}
	return id, true
}
