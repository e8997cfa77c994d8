package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// writeServiceError maps a service error to its HTTP response. Credential
// failures share one generic message. Anything unrecognised is logged,
// reported to Sentry and answered with a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		locked  *models.AccountLockedError
		limited *models.RateLimitedError
		invalid *models.ValidationError
	)

	switch {
	case errors.As(err, &invalid):
		pkghttp.WriteValidationError(w, invalid.Field, invalid.Reason, invalid.Violations)
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, "Account temporarily locked due to repeated failed attempts", locked.RetryAfter)
	case errors.As(err, &limited):
		pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later", limited.RetryAfter)
	case errors.Is(err, models.ErrInvalidCredential):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCredentials, "Invalid credentials")
	case errors.Is(err, models.ErrTwoFactorRequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTwoFactorRequired, "Two-factor code required")
	case errors.Is(err, models.ErrInvalidTwoFactorCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidTwoFactorCode, "Invalid two-factor code")
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeAccountInactive, "Account is inactive")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenExpired, "Token has expired")
	case errors.Is(err, models.ErrTokenVersionMismatch):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenRevoked, "Session has been revoked, please log in again")
	case errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenInvalid, "Invalid token")
	case errors.Is(err, models.ErrTwoFactorAlreadyEnabled):
		pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrTwoFactorNotEnabled):
		pkghttp.WriteBadRequest(w, "Two-factor authentication is not enabled")
	case errors.Is(err, models.ErrTwoFactorNotPending):
		pkghttp.WriteBadRequest(w, "Two-factor setup has not been started")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Username or email already registered")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Operation not permitted")
	case errors.Is(err, models.ErrUnavailable):
		logger.WarnContext(r.Context(), "dependency unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteUnavailable(w, "Service temporarily unavailable, please retry")
	default:
		logger.ErrorContext(r.Context(), "unhandled error", slog.String("path", r.URL.Path), slog.Any("error", err))
		sentry.CaptureException(err)
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
