package models

import "time"

// Event types recorded for every determined auth outcome
const (
	EventRegister         = "register"
	EventLogin            = "login"
	EventRefresh          = "token_refresh"
	EventLogout           = "logout"
	EventLogoutAll        = "logout_all"
	EventAccountLocked    = "account_locked"
	EventPasswordChange   = "password_change"
	EventTwoFactorEnable  = "two_factor_enable"
	EventTwoFactorVerify  = "two_factor_verify"
	EventTwoFactorDisable = "two_factor_disable"
	EventBackupCodeUsed   = "backup_code_used"
	EventRoleChange       = "role_change"
	EventActivationChange = "activation_change"
	EventEmailChange      = "email_change"
)

// AuthEvent describes one outcome. Reason is a stable machine code, never a
// message that reveals which credential check failed.
type AuthEvent struct {
	ID         string            `json:"id"`
	EventType  string            `json:"event_type"`
	UserID     *string           `json:"user_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	Email      string            `json:"-"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
