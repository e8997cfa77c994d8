package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// TwoFactorServiceInterface defines the two-factor lifecycle operations
type TwoFactorServiceInterface interface {
	EnableTwoFactor(ctx context.Context, userID string, client models.ClientInfo) (*auth.TOTPSecret, error)
	VerifyTwoFactor(ctx context.Context, userID, code string, client models.ClientInfo) ([]string, error)
	DisableTwoFactor(ctx context.Context, userID, password string, client models.ClientInfo) error
	UseBackupCode(ctx context.Context, userID, code string, client models.ClientInfo) (int, error)
}

// TwoFactorHandler handles /api/auth/2fa requests
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	ips     *pkghttp.ClientIPResolver
	logger  *slog.Logger
}

// NewTwoFactorHandler creates a new two-factor handler
func NewTwoFactorHandler(service TwoFactorServiceInterface, ips *pkghttp.ClientIPResolver, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		service: service,
		ips:     ips,
		logger:  logger,
	}
}

// Enable handles POST /api/auth/2fa/enable and returns the enrolment material once
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	secret, err := h.service.EnableTwoFactor(r.Context(), claims.UserID, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, secret)
}

// Verify handles POST /api/auth/2fa/verify
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req TwoFactorCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	codes, err := h.service.VerifyTwoFactor(r.Context(), claims.UserID, req.Code, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyTwoFactorResponse{
		Message:     "Two-factor authentication enabled. Store these backup codes somewhere safe; they will not be shown again.",
		BackupCodes: codes,
	})
}

// Disable handles POST /api/auth/2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisableTwoFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), claims.UserID, req.Password, clientInfo(h.ips, r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication disabled"})
}

// UseBackupCode handles POST /api/auth/2fa/backup
func (h *TwoFactorHandler) UseBackupCode(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req BackupCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	remaining, err := h.service.UseBackupCode(r.Context(), claims.UserID, req.Code, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BackupCodeResponse{
		Message:   "Backup code accepted",
		Remaining: remaining,
	})
}
