package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/revocation"
)

// TokenConfig holds signing material and lifetimes for both token types
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
}

// VersionStore is the slice of the credential store the token manager needs
type VersionStore interface {
	BumpTokenVersion(ctx context.Context, id string) (int, error)
}

// UserLoader reads the authoritative user record for a refresh. Callers wrap
// the store with their own timeout and retry policy.
type UserLoader func(ctx context.Context, id string) (*models.User, error)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	config  TokenConfig
	users   VersionStore
	revoked revocation.Set
	now     func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(config TokenConfig, users VersionStore, revoked revocation.Set) *TokenManager {
	return &TokenManager{
		config:  config,
		users:   users,
		revoked: revoked,
		now:     time.Now,
	}
}

// AccessTTL returns the configured access token lifetime
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.config.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime
func (tm *TokenManager) RefreshTTL() time.Duration {
	return tm.config.RefreshTTL
}

// Issue creates an access/refresh pair stamped with the user's current token version
func (tm *TokenManager) Issue(user *models.User) (*models.TokenPair, error) {
	now := tm.now()

	access, accessExp, err := tm.sign(models.TokenTypeAccess, user, now, tm.config.AccessTTL, tm.config.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, refreshExp, err := tm.sign(models.TokenTypeRefresh, user, now, tm.config.RefreshTTL, tm.config.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (tm *TokenManager) sign(tokenType string, user *models.User, now time.Time, ttl time.Duration, secret string) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := &models.TokenClaims{
		Type:         tokenType,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    tm.config.Issuer,
			Audience:  jwt.ClaimStrings{tm.config.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate verifies signature, issuer, audience, expiry and type. The only
// errors it reports are ErrTokenExpired and ErrTokenInvalid.
func (tm *TokenManager) Validate(tokenString string, expectRefresh bool) (*models.TokenClaims, error) {
	secret, wantType := tm.config.AccessSecret, models.TokenTypeAccess
	if expectRefresh {
		secret, wantType = tm.config.RefreshSecret, models.TokenTypeRefresh
	}

	claims := &models.TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.config.Issuer),
		jwt.WithAudience(tm.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	if claims.Type != wantType || claims.UserID == "" {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The stored token version is
// re-read so that any revocation since issuance is honoured. The presented
// refresh token is blacklisted so it cannot be exchanged twice. Load errors
// other than ErrNotFound are returned unchanged.
func (tm *TokenManager) Refresh(ctx context.Context, refreshToken string, load UserLoader) (*models.TokenPair, *models.User, error) {
	claims, err := tm.Validate(refreshToken, true)
	if err != nil {
		return nil, nil, err
	}

	blacklisted, err := tm.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	if blacklisted {
		return nil, nil, models.ErrTokenInvalid
	}

	user, err := load(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrTokenInvalid
		}
		return nil, nil, fmt.Errorf("failed to load user for refresh: %w", err)
	}

	if !user.IsActive {
		return nil, nil, models.ErrAccountInactive
	}
	if claims.TokenVersion != user.TokenVersion {
		return nil, nil, models.ErrTokenVersionMismatch
	}

	pair, err := tm.Issue(user)
	if err != nil {
		return nil, nil, err
	}

	if err := tm.revoked.Add(ctx, refreshToken, claims.ExpiresAt.Time); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}

	return pair, user, nil
}

// RevokeAll bumps the stored token version, invalidating every outstanding token for the user
func (tm *TokenManager) RevokeAll(ctx context.Context, userID string) (int, error) {
	version, err := tm.users.BumpTokenVersion(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to bump token version: %w", err)
	}
	return version, nil
}

// Blacklist revokes one token until its natural expiry. Tokens whose expiry
// cannot be read are kept for the refresh lifetime.
func (tm *TokenManager) Blacklist(ctx context.Context, tokenString string) error {
	expiresAt := tm.now().Add(tm.config.RefreshTTL)

	claims := &models.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return tm.revoked.Add(ctx, tokenString, expiresAt)
}

// IsBlacklisted reports whether the token was explicitly revoked
func (tm *TokenManager) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	return tm.revoked.Contains(ctx, tokenString)
}
