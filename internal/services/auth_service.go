package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/cache"
	"github.com/wakaruku/station-auth/internal/lockout"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/ratelimit"
	"github.com/wakaruku/station-auth/internal/workers"
	pkgauth "github.com/wakaruku/station-auth/pkg/auth"
)

const (
	DefaultStoreTimeout = 3 * time.Second

	// Hashed once at startup and verified against when the identifier is
	// unknown, so a miss costs the same as a wrong password.
	dummyPassword = "wakaruku-dummy-credential"
)

// errStoreTransient marks store failures that are worth one retry
var errStoreTransient = errors.New("credential store unavailable")

// AuthDependencies wires the components AuthService orchestrates
type AuthDependencies struct {
	Store      models.CredentialStore
	Passwords  auth.PasswordHasher
	Backup     *auth.BackupCodeManager
	TOTP       *auth.TOTPManager
	Tokens     *auth.TokenManager
	Lockouts   *lockout.Tracker
	Limiter    ratelimit.Limiter
	Policies   ratelimit.Policies
	Identities *cache.IdentityCache
	Pool       *workers.Pool
	Delay      *auth.FailureDelay
	Hooks      []OutcomeHook
	Logger     *slog.Logger

	StoreTimeout    time.Duration
	BackupCodeCount int
}

// AuthService composes rate limiting, lockout, credential checks, second
// factor checks and token issuance. Each step is an independent short call;
// no transaction spans a whole login.
type AuthService struct {
	store      models.CredentialStore
	passwords  auth.PasswordHasher
	backup     *auth.BackupCodeManager
	totp       *auth.TOTPManager
	tokens     *auth.TokenManager
	lockouts   *lockout.Tracker
	limiter    ratelimit.Limiter
	policies   ratelimit.Policies
	identities *cache.IdentityCache
	pool       *workers.Pool
	delay      *auth.FailureDelay
	hooks      []OutcomeHook
	logger     *slog.Logger

	storeTimeout    time.Duration
	backupCodeCount int
	dummyHash       string
	now             func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDependencies) (*AuthService, error) {
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = DefaultStoreTimeout
	}
	if deps.BackupCodeCount <= 0 {
		deps.BackupCodeCount = auth.DefaultBackupCodeCount
	}
	if deps.Policies == nil {
		deps.Policies = ratelimit.DefaultPolicies()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dummyHash, err := deps.Passwords.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &AuthService{
		store:           deps.Store,
		passwords:       deps.Passwords,
		backup:          deps.Backup,
		totp:            deps.TOTP,
		tokens:          deps.Tokens,
		lockouts:        deps.Lockouts,
		limiter:         deps.Limiter,
		policies:        deps.Policies,
		identities:      deps.Identities,
		pool:            deps.Pool,
		delay:           deps.Delay,
		hooks:           deps.Hooks,
		logger:          deps.Logger,
		storeTimeout:    deps.StoreTimeout,
		backupCodeCount: deps.BackupCodeCount,
		dummyHash:       dummyHash,
		now:             time.Now,
	}, nil
}

// RegisterInput is the shape-validated registration request
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput is the shape-validated login request. At most one of
// TwoFactorCode and BackupCode is expected.
type LoginInput struct {
	Identifier    string
	Password      string
	TwoFactorCode string
	BackupCode    string
}

// AuthResult is returned by login and refresh
type AuthResult struct {
	Tokens *models.TokenPair `json:"tokens"`
	User   *models.UserView  `json:"user"`
}

// Register creates an attendant account. Roles are only granted by an admin.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client models.ClientInfo) (*models.UserView, error) {
	if err := s.admit(ctx, ratelimit.OpRegister, client.IP); err != nil {
		s.emit(ctx, models.EventRegister, client, nil, in.Username, err, nil)
		return nil, err
	}

	if result := pkgauth.ValidateComplexity(in.Password); !result.OK {
		err := &models.ValidationError{Field: "password", Reason: "password does not meet requirements", Violations: result.Violations}
		s.emit(ctx, models.EventRegister, client, nil, in.Username, err, nil)
		return nil, err
	}

	hash, err := s.hashPassword(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	var created *models.User
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.store.Create(ctx, &models.User{
			Username:     strings.TrimSpace(in.Username),
			Email:        normalizeIdentifier(in.Email),
			PasswordHash: hash,
			Role:         models.RoleAttendant,
			IsActive:     true,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.emit(ctx, models.EventRegister, client, nil, in.Username, err, nil)
			return nil, fmt.Errorf("username or email already registered: %w", models.ErrConflict)
		}
		s.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", created.ID))
	s.emit(ctx, models.EventRegister, client, created, "", nil, nil)
	return created.View(), nil
}

// Login runs rate check, lockout check, password check, optional second
// factor check and token issuance, in that order. Only bad credentials
// (unknown identifier, wrong password, wrong second factor) count toward
// lockout.
func (s *AuthService) Login(ctx context.Context, in LoginInput, client models.ClientInfo) (*AuthResult, error) {
	start := time.Now()
	identifier := normalizeIdentifier(in.Identifier)

	if err := s.admit(ctx, ratelimit.OpLogin, client.IP); err != nil {
		s.emit(ctx, models.EventLogin, client, nil, identifier, err, nil)
		return nil, err
	}

	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		s.logger.ErrorContext(ctx, "login lookup failed", slog.Any("error", err))
		return nil, err
	}
	key := lockoutKey(user, identifier)

	if err := s.checkLocked(key, user); err != nil {
		s.delay.PadFrom(ctx, start)
		s.emit(ctx, models.EventLogin, client, user, identifier, err, nil)
		return nil, err
	}

	digest := s.dummyHash
	if user != nil {
		digest = user.PasswordHash
	}
	matched, err := s.verifyPassword(ctx, in.Password, digest)
	if err != nil {
		s.logger.WarnContext(ctx, "password verification unavailable", slog.Any("error", err))
		return nil, err
	}
	if user == nil || !matched {
		err := s.recordFailure(ctx, key, user, client, identifier, models.ErrInvalidCredential)
		s.delay.PadFrom(ctx, start)
		s.emit(ctx, models.EventLogin, client, user, identifier, err, nil)
		return nil, err
	}

	if !user.IsActive {
		s.emit(ctx, models.EventLogin, client, user, identifier, models.ErrAccountInactive, nil)
		return nil, models.ErrAccountInactive
	}

	var metadata map[string]string
	if user.TwoFactorEnabled {
		method, err := s.checkSecondFactor(ctx, user, in)
		if err != nil {
			if errors.Is(err, models.ErrInvalidTwoFactorCode) {
				err = s.recordFailure(ctx, key, user, client, identifier, err)
				s.delay.PadFrom(ctx, start)
			}
			s.emit(ctx, models.EventLogin, client, user, identifier, err, nil)
			return nil, err
		}
		metadata = map[string]string{"second_factor": method}
	}

	s.lockouts.Reset(key)
	now := s.now().UTC()
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.RecordLogin(ctx, user.ID, now)
	}); err != nil {
		// Tokens are still issued; the persisted counters catch up on the next login
		s.logger.WarnContext(ctx, "failed to record login", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	user.LastLoginAt = &now
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil

	pair, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	s.emit(ctx, models.EventLogin, client, user, identifier, nil, metadata)
	return &AuthResult{Tokens: pair, User: user.View()}, nil
}

// checkLocked consults the in-process tracker and the persisted lock, which
// may have been set by another instance
func (s *AuthService) checkLocked(key string, user *models.User) error {
	if status := s.lockouts.Check(key); status.Locked() {
		return &models.AccountLockedError{RetryAfter: status.RetryAfter}
	}
	if user != nil && user.LockedUntil != nil {
		if remaining := user.LockedUntil.Sub(s.now()); remaining > 0 {
			return &models.AccountLockedError{RetryAfter: remaining}
		}
	}
	return nil
}

// recordFailure counts a bad credential. It returns the error the caller
// should see: cause, or AccountLockedError if this failure crossed the threshold.
func (s *AuthService) recordFailure(ctx context.Context, key string, user *models.User, client models.ClientInfo, identifier string, cause error) error {
	status := s.lockouts.RecordFailure(key)

	if user != nil {
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			_, err := s.store.IncrementFailures(ctx, user.ID)
			return err
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to persist login failure", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	if !status.Locked() {
		return cause
	}

	locked := &models.AccountLockedError{RetryAfter: status.RetryAfter}
	if status.JustLocked {
		if user != nil {
			until := status.LockedUntil.UTC()
			if err := s.storeCall(ctx, func(ctx context.Context) error {
				return s.store.SetLockout(ctx, user.ID, &until)
			}); err != nil {
				s.logger.WarnContext(ctx, "failed to persist lockout", slog.String("user_id", user.ID), slog.Any("error", err))
			}
		}
		s.logger.WarnContext(ctx, "account locked", slog.String("key", key), slog.Int("failures", status.Failures))
		s.emit(ctx, models.EventAccountLocked, client, user, identifier, locked, nil)
	}
	return locked
}

// Refresh exchanges a refresh token for a new pair without re-entering credentials
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*AuthResult, error) {
	if err := s.admit(ctx, ratelimit.OpRefresh, client.IP); err != nil {
		s.emit(ctx, models.EventRefresh, client, nil, "", err, nil)
		return nil, err
	}

	pair, user, err := s.tokens.Refresh(ctx, refreshToken, s.findByID)
	if err != nil {
		if !isCredentialOrTokenError(err) {
			s.logger.ErrorContext(ctx, "token refresh failed", slog.Any("error", err))
		}
		s.emit(ctx, models.EventRefresh, client, user, "", err, nil)
		return nil, err
	}

	s.emit(ctx, models.EventRefresh, client, user, "", nil, nil)
	return &AuthResult{Tokens: pair, User: user.View()}, nil
}

// Logout blacklists the presented access token and, when given, a refresh
// token belonging to the same user
func (s *AuthService) Logout(ctx context.Context, userID, accessToken, refreshToken string, client models.ClientInfo) error {
	if err := s.tokens.Blacklist(ctx, accessToken); err != nil {
		s.logger.ErrorContext(ctx, "failed to blacklist access token", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}

	if refreshToken != "" {
		claims, err := s.tokens.Validate(refreshToken, true)
		if err == nil && claims.UserID == userID {
			if err := s.tokens.Blacklist(ctx, refreshToken); err != nil {
				s.logger.WarnContext(ctx, "failed to blacklist refresh token", slog.String("user_id", userID), slog.Any("error", err))
			}
		}
	}

	s.emit(ctx, models.EventLogout, client, &models.User{ID: userID}, "", nil, nil)
	return nil
}

// LogoutAll revokes every outstanding token for the user by bumping the
// token version, and blacklists the current access token
func (s *AuthService) LogoutAll(ctx context.Context, userID, accessToken string, client models.ClientInfo) error {
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		_, err := s.tokens.RevokeAll(ctx, userID)
		return err
	}); err != nil {
		return err
	}
	s.identities.Invalidate(userID)

	if accessToken != "" {
		if err := s.tokens.Blacklist(ctx, accessToken); err != nil {
			s.logger.WarnContext(ctx, "failed to blacklist access token", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	s.emit(ctx, models.EventLogoutAll, client, &models.User{ID: userID}, "", nil, nil)
	return nil
}

// Profile returns the caller's identity through the cache
func (s *AuthService) Profile(ctx context.Context, userID string) (*models.UserView, error) {
	return s.identities.Load(ctx, userID, func(ctx context.Context, id string) (*models.UserView, error) {
		user, err := s.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return user.View(), nil
	})
}

// UpdateProfileInput carries the fields a user may change on their own account
type UpdateProfileInput struct {
	Email string
}

// UpdateProfile changes the caller's email. The email is a login identifier,
// so an address held by another account is ErrConflict. The outcome event
// carries the previous address so the alert reaches the original owner.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput, client models.ClientInfo) (*models.UserView, error) {
	current, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	email := normalizeIdentifier(in.Email)
	if email == "" || email == current.Email {
		return current.View(), nil
	}

	var updated *models.User
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateEmail(ctx, userID, email)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.emit(ctx, models.EventEmailChange, client, current, "", err, nil)
			return nil, fmt.Errorf("email already in use: %w", models.ErrConflict)
		}
		return nil, err
	}
	s.identities.Invalidate(userID)

	s.logger.InfoContext(ctx, "email changed", slog.String("user_id", userID))
	s.emit(ctx, models.EventEmailChange, client, current, "", nil, nil)
	return updated.View(), nil
}

// BootstrapAdmin creates the first administrator when no account holds the username yet
func (s *AuthService) BootstrapAdmin(ctx context.Context, username, email, password string) (bool, error) {
	existing, err := s.findByIdentifier(ctx, normalizeIdentifier(username))
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if result := pkgauth.ValidateComplexity(password); !result.OK {
		return false, &models.ValidationError{Field: "ADMIN_PASSWORD", Reason: "password does not meet requirements", Violations: result.Violations}
	}

	hash, err := s.hashPassword(ctx, password)
	if err != nil {
		return false, err
	}

	err = s.storeCall(ctx, func(ctx context.Context) error {
		_, err := s.store.Create(ctx, &models.User{
			Username:     strings.TrimSpace(username),
			Email:        normalizeIdentifier(email),
			PasswordHash: hash,
			Role:         models.RoleAdmin,
			IsActive:     true,
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to create admin user: %w", err)
	}
	return true, nil
}

// admit applies the rate policy for op. A limiter backend failure lets the
// request through; the lockout tracker still bounds password guessing.
func (s *AuthService) admit(ctx context.Context, op, client string) error {
	policy, ok := s.policies.For(op)
	if !ok || s.limiter == nil {
		return nil
	}

	decision, err := s.limiter.Admit(ctx, ratelimit.Key(op, client), policy)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limiter unavailable", slog.String("operation", op), slog.Any("error", err))
		return nil
	}
	if !decision.Allowed {
		return &models.RateLimitedError{Operation: op, RetryAfter: decision.RetryAfter}
	}
	return nil
}

// retry runs op once more after a transient failure. A second transient
// failure surfaces as ErrUnavailable.
func (s *AuthService) retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = op(ctx); err == nil || !isTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
}

// storeCall bounds one store operation by the store timeout and retries it once if transient
func (s *AuthService) storeCall(ctx context.Context, op func(ctx context.Context) error) error {
	return s.retry(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		return classifyStoreError(op(ctx))
	})
}

func (s *AuthService) findByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	var user *models.User
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.store.FindByIdentifier(ctx, identifier)
		return err
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// FindByID loads a user under the store timeout and single retry. The
// authenticator uses it on identity cache misses.
func (s *AuthService) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.findByID(ctx, id)
}

func (s *AuthService) findByID(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.store.FindByID(ctx, id)
		return err
	})
	return user, err
}

// verifyPassword runs bcrypt on the worker pool
func (s *AuthService) verifyPassword(ctx context.Context, plaintext, digest string) (bool, error) {
	var ok bool
	err := s.retry(ctx, func(ctx context.Context) error {
		var matched bool
		if err := s.pool.Do(ctx, func() error {
			matched = s.passwords.Verify(plaintext, digest)
			return nil
		}); err != nil {
			return err
		}
		ok = matched
		return nil
	})
	return ok, err
}

func (s *AuthService) hashPassword(ctx context.Context, plaintext string) (string, error) {
	var hash string
	err := s.retry(ctx, func(ctx context.Context) error {
		var digest string
		if err := s.pool.Do(ctx, func() error {
			var err error
			digest, err = s.passwords.Hash(plaintext)
			return err
		}); err != nil {
			return err
		}
		hash = digest
		return nil
	})
	return hash, err
}

// classifyStoreError keeps definite outcomes and tags everything else as transient
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	for _, definite := range []error{models.ErrNotFound, models.ErrConflict, models.ErrBadRequest, models.ErrForbidden} {
		if errors.Is(err, definite) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", errStoreTransient, err)
}

func isTransient(err error) bool {
	return workers.IsTransient(err) || errors.Is(err, errStoreTransient)
}

func isCredentialOrTokenError(err error) bool {
	return errors.Is(err, models.ErrTokenInvalid) ||
		errors.Is(err, models.ErrTokenExpired) ||
		errors.Is(err, models.ErrTokenVersionMismatch) ||
		errors.Is(err, models.ErrAccountInactive) ||
		errors.Is(err, models.ErrInvalidCredential)
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// lockoutKey counts failures per account when it exists, so that its username
// and email share one budget, and per identifier otherwise
func lockoutKey(user *models.User, identifier string) string {
	if user != nil {
		return "user:" + user.ID
	}
	return "identifier:" + identifier
}
