package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnavailable    = errors.New("service temporarily unavailable")

	// Credential errors
	ErrInvalidCredential    = errors.New("invalid credentials")
	ErrTwoFactorRequired    = errors.New("two-factor authentication required")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrRateLimited          = errors.New("too many requests")
	ErrValidation           = errors.New("validation failed")

	// Token errors
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenVersionMismatch = errors.New("session has been revoked")

	// Two-factor lifecycle errors
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorNotPending     = errors.New("two-factor setup has not been started")
)

// AccountLockedError reports how long the caller must wait.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s, retry in %ds", ErrAccountLocked, RetryAfterSeconds(e.RetryAfter))
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitedError reports which operation class was exhausted.
type RateLimitedError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s for %s, retry in %ds", ErrRateLimited, e.Operation, RetryAfterSeconds(e.RetryAfter))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// ValidationError describes an input shape problem on a single field.
type ValidationError struct {
	Field      string
	Reason     string
	Violations []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Field, e.Reason)
	if len(e.Violations) > 0 {
		msg += " (" + strings.Join(e.Violations, "; ") + ")"
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RetryAfterSeconds rounds a wait up to whole seconds, minimum one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
