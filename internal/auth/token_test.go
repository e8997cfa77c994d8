package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakaruku/station-auth/internal/models"
)

func TestTokenManager_IssueAndValidate(t *testing.T) {
	user := testUser()
	user.TokenVersion = 3
	tm := newTestTokenManager(newFakeUsers(user))

	pair, err := tm.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := tm.Validate(pair.AccessToken, false)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Role, claims.Role)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.Equal(t, "wakaruku-petrol-station", claims.Issuer)
	assert.Contains(t, claims.Audience, "wakaruku-api")

	refreshClaims, err := tm.Validate(pair.RefreshToken, true)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeRefresh, refreshClaims.Type)
}

func TestTokenManager_Validate_CrossUseRejected(t *testing.T) {
	user := testUser()
	tm := newTestTokenManager(newFakeUsers(user))
	pair, err := tm.Issue(user)
	require.NoError(t, err)

	_, err = tm.Validate(pair.RefreshToken, false)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = tm.Validate(pair.AccessToken, true)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestTokenManager_Validate_Expired(t *testing.T) {
	user := testUser()
	tm := newTestTokenManager(newFakeUsers(user))
	issued := time.Now().Add(-time.Hour)
	tm.now = func() time.Time { return issued }
	pair, err := tm.Issue(user)
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.Validate(pair.AccessToken, false)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

func TestTokenManager_Validate_Rejections(t *testing.T) {
	user := testUser()
	tm := newTestTokenManager(newFakeUsers(user))
	pair, err := tm.Issue(user)
	require.NoError(t, err)

	other := testTokenConfig()
	other.AccessSecret = "a-completely-different-access-secret-value"
	foreign := NewTokenManager(other, newFakeUsers(user), nil)
	foreignPair, err := foreign.Issue(user)
	require.NoError(t, err)

	wrongAudience := testTokenConfig()
	wrongAudience.Audience = "someone-else"
	audPair, err := NewTokenManager(wrongAudience, newFakeUsers(user), nil).Issue(user)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"typ": "access", "uid": user.ID, "exp": time.Now().Add(time.Hour).Unix(),
		"iss": "wakaruku-petrol-station", "aud": "wakaruku-api",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", foreignPair.AccessToken},
		{"wrong audience", audPair.AccessToken},
		{"alg none", noneToken},
		{"tampered payload", tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.Validate(tt.token, false)
			assert.ErrorIs(t, err, models.ErrTokenInvalid)
		})
	}
}

func TestTokenManager_Refresh_RotatesAndBlacklists(t *testing.T) {
	user := testUser()
	users := newFakeUsers(user)
	tm := newTestTokenManager(users)
	ctx := context.Background()

	pair, err := tm.Issue(user)
	require.NoError(t, err)

	next, refreshedUser, err := tm.Refresh(ctx, pair.RefreshToken, users.FindByID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, refreshedUser.ID)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, _, err = tm.Refresh(ctx, pair.RefreshToken, users.FindByID)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestTokenManager_Refresh_VersionMismatchAfterRevokeAll(t *testing.T) {
	user := testUser()
	users := newFakeUsers(user)
	tm := newTestTokenManager(users)
	ctx := context.Background()

	pair, err := tm.Issue(user)
	require.NoError(t, err)

	version, err := tm.RevokeAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, _, err = tm.Refresh(ctx, pair.RefreshToken, users.FindByID)
	assert.ErrorIs(t, err, models.ErrTokenVersionMismatch)
}

func TestTokenManager_Refresh_InactiveUser(t *testing.T) {
	user := testUser()
	users := newFakeUsers(user)
	tm := newTestTokenManager(users)

	pair, err := tm.Issue(user)
	require.NoError(t, err)
	users.users[user.ID].IsActive = false

	_, _, err = tm.Refresh(context.Background(), pair.RefreshToken, users.FindByID)
	assert.ErrorIs(t, err, models.ErrAccountInactive)
}

func TestTokenManager_Refresh_UnknownUser(t *testing.T) {
	user := testUser()
	users := newFakeUsers()
	tm := newTestTokenManager(users)

	pair, err := tm.Issue(user)
	require.NoError(t, err)

	_, _, err = tm.Refresh(context.Background(), pair.RefreshToken, users.FindByID)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestTokenManager_Refresh_LoadErrorKeepsTokenUsable(t *testing.T) {
	user := testUser()
	users := newFakeUsers(user)
	tm := newTestTokenManager(users)
	ctx := context.Background()

	pair, err := tm.Issue(user)
	require.NoError(t, err)

	down := errors.New("connection refused")
	_, _, err = tm.Refresh(ctx, pair.RefreshToken, func(context.Context, string) (*models.User, error) {
		return nil, down
	})
	assert.ErrorIs(t, err, down)

	_, _, err = tm.Refresh(ctx, pair.RefreshToken, users.FindByID)
	assert.NoError(t, err)
}

func TestTokenManager_Blacklist(t *testing.T) {
	user := testUser()
	tm := newTestTokenManager(newFakeUsers(user))
	ctx := context.Background()

	pair, err := tm.Issue(user)
	require.NoError(t, err)

	listed, err := tm.IsBlacklisted(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, listed)

	require.NoError(t, tm.Blacklist(ctx, pair.AccessToken))

	listed, err = tm.IsBlacklisted(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, listed)

	listed, err = tm.IsBlacklisted(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, listed)
}
