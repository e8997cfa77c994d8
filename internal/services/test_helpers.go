package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/cache"
	"github.com/wakaruku/station-auth/internal/lockout"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/ratelimit"
	"github.com/wakaruku/station-auth/internal/revocation"
	"github.com/wakaruku/station-auth/internal/workers"
	pkgauth "github.com/wakaruku/station-auth/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// ErrTestStoreDown simulates a connection failure in MemoryCredentialStore
var ErrTestStoreDown = errors.New("connection refused")

// MemoryCredentialStore implements models.CredentialStore in memory for tests.
// Each method holds the store lock for its whole read-modify-write, matching
// the single-statement guarantees of the Postgres store.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	users map[string]*models.User

	// FailLookups makes the next N FindByIdentifier calls fail with ErrTestStoreDown
	FailLookups int
	// FailByID makes the next N FindByID calls fail with ErrTestStoreDown
	FailByID int
	// Lookups counts FindByIdentifier calls
	Lookups int
	// FindByIDCalls counts FindByID calls
	FindByIDCalls int
}

var _ models.CredentialStore = (*MemoryCredentialStore)(nil)

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{users: make(map[string]*models.User)}
}

func (m *MemoryCredentialStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return nil, models.ErrConflict
		}
	}

	clone := *user
	clone.ID = uuid.New().String()
	now := time.Now().UTC()
	clone.CreatedAt, clone.UpdatedAt = now, now
	clone.PasswordChangedAt = &now
	clone.BackupCodeHashes = []string{}
	m.users[clone.ID] = &clone

	out := clone
	return &out, nil
}

func (m *MemoryCredentialStore) FindByIdentifier(_ context.Context, identifier string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Lookups++
	if m.FailLookups > 0 {
		m.FailLookups--
		return nil, ErrTestStoreDown
	}

	for _, u := range m.users {
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			return copyUser(u), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryCredentialStore) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FindByIDCalls++
	if m.FailByID > 0 {
		m.FailByID--
		return nil, ErrTestStoreDown
	}
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *MemoryCredentialStore) IncrementFailures(_ context.Context, id string) (int, error) {
	return m.update(id, func(u *models.User) int {
		u.FailedLoginAttempts++
		return u.FailedLoginAttempts
	})
}

func (m *MemoryCredentialStore) SetLockout(_ context.Context, id string, until *time.Time) error {
	_, err := m.update(id, func(u *models.User) int {
		u.LockedUntil = until
		u.FailedLoginAttempts = 0
		return 0
	})
	return err
}

func (m *MemoryCredentialStore) BumpTokenVersion(_ context.Context, id string) (int, error) {
	return m.update(id, func(u *models.User) int {
		u.TokenVersion++
		return u.TokenVersion
	})
}

func (m *MemoryCredentialStore) UpdatePasswordHash(_ context.Context, id, hash string) (int, error) {
	return m.update(id, func(u *models.User) int {
		now := time.Now().UTC()
		u.PasswordHash = hash
		u.PasswordChangedAt = &now
		u.TokenVersion++
		return u.TokenVersion
	})
}

func (m *MemoryCredentialStore) UpdateTwoFactorState(_ context.Context, id string, state models.TwoFactorState) error {
	_, err := m.update(id, func(u *models.User) int {
		u.TwoFactorEnabled = state.Enabled
		u.TwoFactorSecret = state.Secret
		u.BackupCodeHashes = append([]string{}, state.BackupCodeHashes...)
		return 0
	})
	return err
}

func (m *MemoryCredentialStore) ReplaceBackupCodes(_ context.Context, id string, expected, remaining []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if !slices.Equal(u.BackupCodeHashes, expected) {
		return false, nil
	}
	u.BackupCodeHashes = append([]string{}, remaining...)
	return true, nil
}

func (m *MemoryCredentialStore) RecordLogin(_ context.Context, id string, at time.Time) error {
	_, err := m.update(id, func(u *models.User) int {
		u.LastLoginAt = &at
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		return 0
	})
	return err
}

func (m *MemoryCredentialStore) UpdateRole(_ context.Context, id, role string) (int, error) {
	return m.update(id, func(u *models.User) int {
		u.Role = role
		u.TokenVersion++
		return u.TokenVersion
	})
}

func (m *MemoryCredentialStore) SetActive(_ context.Context, id string, active bool) (int, error) {
	return m.update(id, func(u *models.User) int {
		u.IsActive = active
		u.TokenVersion++
		return u.TokenVersion
	})
}

// Get returns a copy of the stored record, for assertions
func (m *MemoryCredentialStore) UpdateEmail(_ context.Context, id, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	for otherID, other := range m.users {
		if otherID != id && strings.EqualFold(other.Email, email) {
			return nil, models.ErrConflict
		}
	}
	u.Email = strings.ToLower(email)
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (m *MemoryCredentialStore) Get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	return copyUser(u)
}

func (m *MemoryCredentialStore) update(id string, fn func(u *models.User) int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	out := fn(u)
	u.UpdatedAt = time.Now().UTC()
	return out, nil
}

func copyUser(u *models.User) *models.User {
	clone := *u
	clone.BackupCodeHashes = append([]string{}, u.BackupCodeHashes...)
	if u.TwoFactorSecret != nil {
		clone.TwoFactorSecret = append([]byte{}, u.TwoFactorSecret...)
	}
	return &clone
}

// RecordingHook keeps every event it receives
type RecordingHook struct {
	mu     sync.Mutex
	events []*models.AuthEvent
}

func (h *RecordingHook) OnOutcome(_ context.Context, event *models.AuthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

// Events returns the recorded events of the given type
func (h *RecordingHook) Events(eventType string) []*models.AuthEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*models.AuthEvent
	for _, e := range h.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// TestClock is a settable time source
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// CountingHasher counts Verify calls on the wrapped hasher
type CountingHasher struct {
	auth.PasswordHasher
	verifies atomic.Int64
}

func (c *CountingHasher) Verify(plaintext, digest string) bool {
	c.verifies.Add(1)
	return c.PasswordHasher.Verify(plaintext, digest)
}

// Verifies returns how many verifications ran
func (c *CountingHasher) Verifies() int64 {
	return c.verifies.Load()
}

// TestEncryptionKey is a fixed AES-256 key for tests
var TestEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// AuthFixture is a fully wired AuthService over in-memory backends
type AuthFixture struct {
	Service    *AuthService
	Passwords  *CountingHasher
	Store      *MemoryCredentialStore
	Tokens     *auth.TokenManager
	TOTP       *auth.TOTPManager
	Lockouts   *lockout.Tracker
	Identities *cache.IdentityCache
	Limiter    *ratelimit.MemoryLimiter
	Hook       *RecordingHook
	Clock      *TestClock
}

// NewAuthFixture wires an AuthService with fast hashing and no failure padding.
// policies may be nil for generous limits that tests will not hit.
func NewAuthFixture(policies ratelimit.Policies) (*AuthFixture, error) {
	store := NewMemoryCredentialStore()
	passwords := &CountingHasher{PasswordHasher: pkgauth.NewPasswordManager(bcrypt.MinCost)}
	clock := NewTestClock(time.Now())

	totpManager, err := auth.NewTOTPManager(auth.TOTPConfig{
		Issuer:        "Wakaruku Petrol Station",
		EncryptionKey: TestEncryptionKey,
		Skew:          auth.DefaultTOTPSkew,
	})
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "test-access-secret-0123456789abcdefghij",
		RefreshSecret: "test-refresh-secret-0123456789abcdefghij",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "wakaruku-petrol-station",
		Audience:      "wakaruku-api",
	}, store, revocation.NewMemorySet(1000, 7*24*time.Hour, nil))

	tracker := lockout.NewTracker(lockout.DefaultConfig())
	tracker.SetClock(clock.Now)

	if policies == nil {
		policies = ratelimit.Policies{}
		for op := range ratelimit.DefaultPolicies() {
			policies[op] = ratelimit.Policy{Window: time.Minute, Max: 1000}
		}
	}

	limiter := ratelimit.NewMemoryLimiter(1000)
	identities := cache.NewIdentityCache(100, 5*time.Minute)
	hook := &RecordingHook{}

	service, err := NewAuthService(AuthDependencies{
		Store:      store,
		Passwords:  passwords,
		Backup:     auth.NewBackupCodeManager(pkgauth.NewPasswordManager(bcrypt.MinCost)),
		TOTP:       totpManager,
		Tokens:     tokens,
		Lockouts:   tracker,
		Limiter:    limiter,
		Policies:   policies,
		Identities: identities,
		Pool:       workers.NewPool(workers.Config{Workers: 4, QueueDepth: 16, Timeout: 5 * time.Second}),
		Hooks:      []OutcomeHook{hook},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return nil, err
	}
	service.now = clock.Now

	return &AuthFixture{
		Service:    service,
		Passwords:  passwords,
		Store:      store,
		Tokens:     tokens,
		TOTP:       totpManager,
		Lockouts:   tracker,
		Identities: identities,
		Limiter:    limiter,
		Hook:       hook,
		Clock:      clock,
	}, nil
}
