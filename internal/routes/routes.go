package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/handlers"
	"github.com/wakaruku/station-auth/internal/middleware"
	"github.com/wakaruku/station-auth/internal/models"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Auth      *handlers.AuthHandler
	TwoFactor *handlers.TwoFactorHandler
	Admin     *handlers.AdminHandler
	Audit     *handlers.AuditHandler
}

// Options carries the router-wide middleware settings
type Options struct {
	Env            string
	AllowedOrigins []string
	RequestTimeout time.Duration
	APIRateLimit   middleware.RateLimitConfig
}

// NewRouter builds the application router with the global middleware stack
func NewRouter(h Handlers, authn *auth.Authenticator, db Pinger, ips *pkghttp.ClientIPResolver, opts Options, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.SecureLogger(logger, ips))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: opts.Env}))
	r.Use(middleware.CORS(middleware.NewCORSConfig(opts.AllowedOrigins)))
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", healthHandler(db))

	r.Route("/api", func(api chi.Router) {
		if opts.APIRateLimit.Requests > 0 {
			api.Use(middleware.RateLimitByIP(opts.APIRateLimit, ips))
		}
		RegisterRoutes(api, h, authn)
	})

	return r
}

// RegisterRoutes registers all /api routes. Per-operation rate limits are
// enforced inside the services so they can key on the account as well as the IP.
func RegisterRoutes(router chi.Router, h Handlers, authn *auth.Authenticator) {
	router.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
		r.Post("/refresh", h.Auth.RefreshToken)

		// Any authenticated user
		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			r.Post("/logout", h.Auth.Logout)
			r.Post("/logout-all", h.Auth.LogoutAll)
			r.Get("/profile", h.Auth.Profile)
			r.Put("/profile", h.Auth.UpdateProfile)
			r.Put("/change-password", h.Auth.ChangePassword)
			r.Get("/security-log", h.Audit.MySecurityLog)

			r.Post("/2fa/enable", h.TwoFactor.Enable)
			r.Post("/2fa/verify", h.TwoFactor.Verify)
			r.Post("/2fa/disable", h.TwoFactor.Disable)
			r.Post("/2fa/backup", h.TwoFactor.UseBackupCode)
		})
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(authn.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Put("/users/{id}/role", h.Admin.SetRole)
			r.Put("/users/{id}/status", h.Admin.SetStatus)
		})

		r.With(auth.RequirePermission(models.PermViewSecurityLog)).Get("/security-log", h.Audit.SecurityLog)
	})
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			pkghttp.WriteUnavailable(w, "Database unreachable")
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
