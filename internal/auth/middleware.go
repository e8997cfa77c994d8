package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wakaruku/station-auth/internal/cache"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	claimsContextKey contextKey = "claims"
	userContextKey   contextKey = "user"
	tokenContextKey  contextKey = "token"

	// AccessTokenCookie and AccessTokenParam are the fallbacks for clients
	// that cannot set an Authorization header
	AccessTokenCookie = "access_token"
	AccessTokenParam  = "access_token"
)

// IdentityStore loads the authoritative user record on a cache miss
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Authenticator resolves a bearer token to an identity: signature and expiry,
// blacklist, cached identity (store fallback), active flag, token version.
type Authenticator struct {
	tokens *TokenManager
	cache  *cache.IdentityCache
	users  IdentityStore
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(tokens *TokenManager, identities *cache.IdentityCache, users IdentityStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		cache:  identities,
		users:  users,
		logger: logger,
	}
}

// Authenticate validates an access token. It succeeds only when the token is
// well signed, unexpired, not blacklisted, its user is active and its version
// equals the stored version.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.TokenClaims, *models.UserView, error) {
	claims, err := a.tokens.Validate(token, false)
	if err != nil {
		return nil, nil, err
	}

	revoked, err := a.tokens.IsBlacklisted(ctx, token)
	if err != nil {
		// Fail closed
		return nil, nil, errors.Join(models.ErrUnavailable, err)
	}
	if revoked {
		return nil, nil, models.ErrTokenInvalid
	}

	view, err := a.cache.Load(ctx, claims.UserID, a.loadView)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrTokenInvalid
		}
		return nil, nil, errors.Join(models.ErrUnavailable, err)
	}

	if !view.IsActive {
		return nil, nil, models.ErrAccountInactive
	}
	if view.TokenVersion != claims.TokenVersion {
		return nil, nil, models.ErrTokenVersionMismatch
	}

	return claims, view, nil
}

func (a *Authenticator) loadView(ctx context.Context, id string) (*models.UserView, error) {
	user, err := a.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.View(), nil
}

// Middleware rejects requests without a valid access token and injects the
// claims, the identity and the raw token into the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}

		claims, view, err := a.Authenticate(r.Context(), token)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		ctx = context.WithValue(ctx, userContextKey, view)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenExpired, "Access token has expired")
	case errors.Is(err, models.ErrTokenVersionMismatch):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenRevoked, "Session has been revoked, please log in again")
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteError(w, http.StatusForbidden, pkghttp.CodeAccountInactive, "Account is inactive")
	case errors.Is(err, models.ErrUnavailable):
		a.logger.ErrorContext(r.Context(), "token verification unavailable", slog.Any("error", err))
		pkghttp.WriteUnavailable(w, "Authentication temporarily unavailable")
	default:
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeTokenInvalid, "Invalid access token")
	}
}

// ExtractToken reads the bearer token from the Authorization header, then the
// access_token cookie, then the access_token query parameter
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(AccessTokenParam)
}

// RequireRole allows the request through only for the listed roles.
// Must be mounted behind Authenticator.Middleware.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			view := GetUser(r.Context())
			if view == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			for _, role := range roles {
				if view.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			pkghttp.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// RequirePermission allows the request through when the caller's role grants every permission
func RequirePermission(perms ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			view := GetUser(r.Context())
			if view == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if !models.HasPermission(view.Role, perms...) {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims returns the validated token claims, or nil outside an authenticated route
func GetClaims(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims
}

// GetUser returns the identity resolved for the request
func GetUser(ctx context.Context) *models.UserView {
	view, _ := ctx.Value(userContextKey).(*models.UserView)
	return view
}

// GetRawToken returns the access token the request was authenticated with
func GetRawToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// WithIdentity attaches an identity to ctx. Used by tests that bypass token validation.
func WithIdentity(ctx context.Context, claims *models.TokenClaims, view *models.UserView, token string) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	ctx = context.WithValue(ctx, userContextKey, view)
	return context.WithValue(ctx, tokenContextKey, token)
}
