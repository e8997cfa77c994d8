package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// SecurityLogService lists persisted auth events
type SecurityLogService interface {
	ListRecent(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error)
}

// AuditHandler serves the security log
type AuditHandler struct {
	service SecurityLogService
	logger  *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service SecurityLogService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{service: service, logger: logger}
}

// MySecurityLog handles GET /api/auth/security-log for the caller's own events
func (h *AuditHandler) MySecurityLog(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	h.list(w, r, claims.UserID)
}

// SecurityLog handles GET /api/admin/security-log, optionally filtered by ?user_id=
func (h *AuditHandler) SecurityLog(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID != "" {
		if _, err := uuid.Parse(userID); err != nil {
			pkghttp.WriteValidationError(w, "user_id", "must be a valid user id", nil)
			return
		}
	}
	h.list(w, r, userID)
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request, userID string) {
	limit, offset := pagination(r)

	events, err := h.service.ListRecent(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.AuthEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityLogResponse{
		Events: events,
		Limit:  limit,
		Offset: offset,
	})
}

func pagination(r *http.Request) (int, int) {
	limit, offset := defaultLogLimit, 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLogLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}
