package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Stable machine-readable error codes
const (
	CodeBadRequest           = "bad_request"
	CodeValidation           = "validation_error"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeTwoFactorRequired    = "two_factor_required"
	CodeInvalidTwoFactorCode = "invalid_two_factor_code"
	CodeAccountLocked        = "account_locked"
	CodeAccountInactive      = "account_inactive"
	CodeRateLimited          = "rate_limit_exceeded"
	CodeTokenExpired         = "token_expired"
	CodeTokenInvalid         = "token_invalid"
	CodeTokenRevoked         = "token_version_mismatch"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeUnavailable          = "service_unavailable"
	CodeInternal             = "internal_error"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error      string   `json:"error"`                 // Machine-readable error code
	Message    string   `json:"message"`               // Human-readable message
	Field      string   `json:"field,omitempty"`       // Offending input field, validation only
	Details    []string `json:"details,omitempty"`     // Optional additional context
	RetryAfter int      `json:"retry_after,omitempty"` // Seconds, lockout and rate limit only
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONError(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteValidationError reports an input shape problem on one field
func WriteValidationError(w http.ResponseWriter, field, message string, details []string) {
	writeJSONError(w, http.StatusBadRequest, ErrorResponse{
		Error:   CodeValidation,
		Message: message,
		Field:   field,
		Details: details,
	})
}

// WriteRetryableError sets Retry-After and mirrors it in the body
func WriteRetryableError(w http.ResponseWriter, statusCode int, errorCode, message string, retryAfter time.Duration) {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSONError(w, statusCode, ErrorResponse{
		Error:      errorCode,
		Message:    message,
		RetryAfter: seconds,
	})
}

func writeJSONError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a successful JSON payload
func WriteJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string, retryAfter time.Duration) {
	WriteRetryableError(w, http.StatusTooManyRequests, CodeRateLimited, message, retryAfter)
}

func WriteLocked(w http.ResponseWriter, message string, retryAfter time.Duration) {
	WriteRetryableError(w, http.StatusLocked, CodeAccountLocked, message, retryAfter)
}

func WriteUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}
