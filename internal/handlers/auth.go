package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/services"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput, client models.ClientInfo) (*models.UserView, error)
	Login(ctx context.Context, in services.LoginInput, client models.ClientInfo) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.AuthResult, error)
	Logout(ctx context.Context, userID, accessToken, refreshToken string, client models.ClientInfo) error
	LogoutAll(ctx context.Context, userID, accessToken string, client models.ClientInfo) error
	Profile(ctx context.Context, userID string) (*models.UserView, error)
	UpdateProfile(ctx context.Context, userID string, in services.UpdateProfileInput, client models.ClientInfo) (*models.UserView, error)
	ChangePassword(ctx context.Context, userID, current, next string, client models.ClientInfo) (*models.TokenPair, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
	ips     *pkghttp.ClientIPResolver
	cookies auth.CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ips *pkghttp.ClientIPResolver, cookies auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		ips:     ips,
		cookies: cookies,
		logger:  logger,
	}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, UserResponse{User: user})
}

// Login handles POST /api/auth/login. The refresh token is returned in the
// body and as an httpOnly cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Identifier:    req.Identifier,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		BackupCode:    req.BackupCode,
	}, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetRefreshTokenCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// RefreshToken handles POST /api/auth/refresh with the token from the body or the cookie
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = auth.GetRefreshTokenCookie(r)
	}
	if req.RefreshToken == "" {
		pkghttp.WriteValidationError(w, "refresh_token", "this field is required", nil)
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken, clientInfo(h.ips, r))
	if err != nil {
		auth.ClearRefreshTokenCookie(w, h.cookies)
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetRefreshTokenCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	accessToken := auth.GetRawToken(r.Context())
	if claims == nil || accessToken == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = auth.GetRefreshTokenCookie(r)
	}

	if err := h.service.Logout(r.Context(), claims.UserID, accessToken, req.RefreshToken, clientInfo(h.ips, r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID, auth.GetRawToken(r.Context()), clientInfo(h.ips, r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Profile handles GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.service.Profile(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

// UpdateProfile handles PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), claims.UserID, services.UpdateProfileInput{Email: req.Email}, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

// ChangePassword handles PUT /api/auth/change-password. Every other session
// ends; this device receives a new pair.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pair, err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, clientInfo(h.ips, r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetRefreshTokenCookie(w, pair.RefreshToken, pair.RefreshExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, ChangePasswordResponse{
		Message: "Password changed successfully",
		Tokens:  pair,
	})
}

func clientInfo(ips *pkghttp.ClientIPResolver, r *http.Request) models.ClientInfo {
	if ips == nil {
		ips = pkghttp.NewClientIPResolver(nil)
	}
	return models.ClientInfo{
		IP:        ips.ClientIP(r),
		UserAgent: pkghttp.ExtractUserAgent(r),
	}
}
