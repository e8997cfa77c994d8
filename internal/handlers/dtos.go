package handlers

import "github.com/wakaruku/station-auth/internal/models"

// Auth DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// LoginRequest accepts a username or an email as the identifier. At most one
// second factor may be supplied.
type LoginRequest struct {
	Identifier    string `json:"identifier" validate:"required,max=255"`
	Password      string `json:"password" validate:"required,max=128"`
	TwoFactorCode string `json:"two_factor_code" validate:"omitempty,len=6,numeric,excluded_with=BackupCode"`
	BackupCode    string `json:"backup_code" validate:"omitempty,backupcode"`
}

// RefreshTokenRequest may be empty when the refresh cookie is present
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest optionally names the refresh token to revoke with the access token
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

// UpdateProfileRequest changes the caller's email, which is also a login identifier
type UpdateProfileRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// UserResponse wraps a single identity
type UserResponse struct {
	User *models.UserView `json:"user"`
}

// MessageResponse carries a human-readable confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

// ChangePasswordResponse returns the pair that replaces the revoked session
type ChangePasswordResponse struct {
	Message string            `json:"message"`
	Tokens  *models.TokenPair `json:"tokens"`
}

// Two-factor DTOs

// TwoFactorCodeRequest carries a six-digit authenticator code
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTwoFactorRequest requires the account password again
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

// BackupCodeRequest carries one recovery code
type BackupCodeRequest struct {
	Code string `json:"code" validate:"required,backupcode"`
}

// VerifyTwoFactorResponse shows the backup codes once
type VerifyTwoFactorResponse struct {
	Message     string   `json:"message"`
	BackupCodes []string `json:"backup_codes"`
}

// BackupCodeResponse reports how many codes are left
type BackupCodeResponse struct {
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

// Admin DTOs

// SetRoleRequest represents the request body for a role change
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin manager bookkeeper accountant attendant"`
}

// SetStatusRequest represents the request body for activation changes
type SetStatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// SecurityLogResponse is one page of auth events
type SecurityLogResponse struct {
	Events []*models.AuthEvent `json:"events"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}
