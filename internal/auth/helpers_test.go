package auth

import (
	"context"
	"sync"
	"time"

	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/revocation"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
	loads int
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUsers) BumpTokenVersion(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	u.TokenVersion++
	return u.TokenVersion, nil
}

func testUser() *models.User {
	return &models.User{
		ID:       "9f1c2b44-0000-4000-8000-000000000001",
		Username: "alice",
		Email:    "alice@station.co.ke",
		Role:     models.RoleAttendant,
		IsActive: true,
	}
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessSecret:  "access-secret-for-tests-0123456789abcdef",
		RefreshSecret: "refresh-secret-for-tests-0123456789abcdef",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "wakaruku-petrol-station",
		Audience:      "wakaruku-api",
	}
}

func newTestTokenManager(users VersionStore) *TokenManager {
	return NewTokenManager(testTokenConfig(), users, revocation.NewMemorySet(1000, 7*24*time.Hour, nil))
}
