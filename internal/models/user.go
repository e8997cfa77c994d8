package models

import (
	"context"
	"time"
)

// Roles recognised by the permission map
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleBookkeeper = "bookkeeper"
	RoleAccountant = "accountant"
	RoleAttendant  = "attendant"
)

// User is the persisted credential record. It is never deleted by the auth
// subsystem; deactivation flips IsActive.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	Role                string
	TwoFactorEnabled    bool
	TwoFactorSecret     []byte // AES-GCM sealed, nil until setup starts
	BackupCodeHashes    []string
	IsActive            bool
	LastLoginAt         *time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	PasswordChangedAt   *time.Time
	TokenVersion        int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// View returns the denormalized identity used by the cache and API responses.
func (u *User) View() *UserView {
	return &UserView{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		Role:              u.Role,
		IsActive:          u.IsActive,
		TwoFactorEnabled:  u.TwoFactorEnabled,
		TokenVersion:      u.TokenVersion,
		LastLoginAt:       u.LastLoginAt,
		PasswordChangedAt: u.PasswordChangedAt,
		CreatedAt:         u.CreatedAt,
	}
}

// UserView carries no secret material.
type UserView struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	Role              string     `json:"role"`
	IsActive          bool       `json:"is_active"`
	TwoFactorEnabled  bool       `json:"two_factor_enabled"`
	TokenVersion      int        `json:"-"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// TwoFactorState is written as a single unit by UpdateTwoFactorState.
type TwoFactorState struct {
	Enabled          bool
	Secret           []byte
	BackupCodeHashes []string
}

// CredentialStore is the persistence contract the auth core depends on.
// Every mutating method must be a single atomic operation in the backing store.
type CredentialStore interface {
	Create(ctx context.Context, user *User) (*User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	IncrementFailures(ctx context.Context, id string) (int, error)
	SetLockout(ctx context.Context, id string, until *time.Time) error
	BumpTokenVersion(ctx context.Context, id string) (int, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) (int, error)
	UpdateTwoFactorState(ctx context.Context, id string, state TwoFactorState) error
	ReplaceBackupCodes(ctx context.Context, id string, expected, remaining []string) (bool, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error
	UpdateRole(ctx context.Context, id, role string) (int, error)
	SetActive(ctx context.Context, id string, active bool) (int, error)
	UpdateEmail(ctx context.Context, id, email string) (*User, error)
}
