package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/wakaruku/station-auth/internal/models"
	pkglogger "github.com/wakaruku/station-auth/pkg/logger"
)

// OutcomeHook is invoked by AuthService once the outcome of an operation is
// known. Hooks must not block the caller for long and must not fail it.
type OutcomeHook interface {
	OnOutcome(ctx context.Context, event *models.AuthEvent)
}

// OutcomeHookFunc adapts a function to OutcomeHook
type OutcomeHookFunc func(ctx context.Context, event *models.AuthEvent)

func (f OutcomeHookFunc) OnOutcome(ctx context.Context, event *models.AuthEvent) {
	f(ctx, event)
}

// AddHook registers another hook. Call it before the service handles requests.
func (s *AuthService) AddHook(hook OutcomeHook) {
	s.hooks = append(s.hooks, hook)
}

// AuditLogHook writes every outcome to the structured audit log
type AuditLogHook struct {
	audit *pkglogger.AuditLogger
}

func NewAuditLogHook(audit *pkglogger.AuditLogger) *AuditLogHook {
	return &AuditLogHook{audit: audit}
}

func (h *AuditLogHook) OnOutcome(ctx context.Context, event *models.AuthEvent) {
	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	h.audit.LogAuthEvent(ctx, pkglogger.AuditEvent{
		EventType:     event.EventType,
		UserID:        userID,
		Identifier:    event.Identifier,
		IPAddress:     event.IPAddress,
		UserAgent:     event.UserAgent,
		Success:       event.Success,
		FailureReason: event.Reason,
		Metadata:      event.Metadata,
	})
}

// reasonFor maps an outcome error to the stable reason stored with the event
func reasonFor(err error) string {
	var locked *models.AccountLockedError
	var limited *models.RateLimitedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &locked):
		return "account_locked"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.Is(err, models.ErrInvalidCredential):
		return "invalid_credentials"
	case errors.Is(err, models.ErrTwoFactorRequired):
		return "two_factor_required"
	case errors.Is(err, models.ErrInvalidTwoFactorCode):
		return "invalid_two_factor_code"
	case errors.Is(err, models.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, models.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, models.ErrTokenVersionMismatch):
		return "token_version_mismatch"
	case errors.Is(err, models.ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, models.ErrValidation):
		return "validation_error"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}

// emit builds the event for one outcome and hands it to every hook
func (s *AuthService) emit(ctx context.Context, eventType string, client models.ClientInfo, user *models.User, identifier string, err error, metadata map[string]string) {
	event := &models.AuthEvent{
		EventType:  eventType,
		Identifier: identifier,
		Success:    err == nil,
		Reason:     reasonFor(err),
		IPAddress:  client.IP,
		UserAgent:  client.UserAgent,
		Metadata:   metadata,
		CreatedAt:  s.now().UTC(),
	}
	if user != nil {
		id := user.ID
		event.UserID = &id
		event.Email = user.Email
		if event.Identifier == "" {
			event.Identifier = user.Username
		}
	}

	var locked *models.AccountLockedError
	if errors.As(err, &locked) {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string)
		}
		event.Metadata["retry_after"] = strconv.Itoa(models.RetryAfterSeconds(locked.RetryAfter))
	}

	for _, hook := range s.hooks {
		s.safeHook(ctx, hook, event)
	}
}

func (s *AuthService) safeHook(ctx context.Context, hook OutcomeHook, event *models.AuthEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "outcome hook panicked",
				slog.String("event_type", event.EventType),
				slog.Any("panic", r))
		}
	}()
	hook.OnOutcome(ctx, event)
}
