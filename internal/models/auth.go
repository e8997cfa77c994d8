package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type TokenClaims struct {
	Type         string `json:"typ"`
	UserID       string `json:"uid"`
	Username     string `json:"username,omitempty"`
	Role         string `json:"role,omitempty"`
	TokenVersion int    `json:"ver"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ClientInfo identifies the caller for rate limiting and auditing.
type ClientInfo struct {
	IP        string
	UserAgent string
}
