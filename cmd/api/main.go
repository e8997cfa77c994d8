package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/background"
	"github.com/wakaruku/station-auth/internal/cache"
	"github.com/wakaruku/station-auth/internal/config"
	"github.com/wakaruku/station-auth/internal/database"
	"github.com/wakaruku/station-auth/internal/handlers"
	"github.com/wakaruku/station-auth/internal/lockout"
	"github.com/wakaruku/station-auth/internal/middleware"
	"github.com/wakaruku/station-auth/internal/ratelimit"
	"github.com/wakaruku/station-auth/internal/repositories"
	"github.com/wakaruku/station-auth/internal/revocation"
	"github.com/wakaruku/station-auth/internal/routes"
	"github.com/wakaruku/station-auth/internal/services"
	"github.com/wakaruku/station-auth/internal/workers"
	pkgauth "github.com/wakaruku/station-auth/pkg/auth"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
	pkglogger "github.com/wakaruku/station-auth/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if cfg.Observability.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.SentryDSN,
			Environment:      cfg.Server.Env,
			AttachStacktrace: true,
			TracesSampleRate: cfg.Observability.TracesSampleRate,
		}); err != nil {
			logger.Warn("sentry disabled", slog.Any("error", err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewAuthEventRepository(db)

	// Shared counters live in Redis when it is configured so every instance
	// sees the same rate windows and blacklist.
	memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.MaxKeys)
	var limiter ratelimit.Limiter = memLimiter
	var revoked revocation.Set = revocation.NewMemorySet(cfg.Auth.RevocationCapacity, cfg.Auth.RefreshTokenExpiry, logger)
	if cfg.Redis.URL != "" {
		rdb, err := newRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb)
		revoked = revocation.NewRedisSet(rdb)
		logger.Info("using redis for rate limits and token revocation")
	}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTokenExpiry,
		RefreshTTL:    cfg.Auth.RefreshTokenExpiry,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
	}, userRepo, revoked)

	totp, err := auth.NewTOTPManager(auth.TOTPConfig{
		Issuer:        cfg.Auth.TOTPIssuer,
		EncryptionKey: cfg.Auth.TOTPEncryptionKey,
		Skew:          cfg.Auth.TOTPSkew,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize totp: %w", err)
	}

	lockoutCfg := lockout.DefaultConfig()
	lockoutCfg.Threshold = cfg.Lockout.Threshold
	lockoutCfg.Window = cfg.Lockout.Window
	lockoutCfg.LockDuration = cfg.Lockout.LockDuration
	lockouts := lockout.NewTracker(lockoutCfg)

	identities := cache.NewIdentityCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	audit := services.NewAuditService(eventRepo, logger)
	hooks := []services.OutcomeHook{
		services.NewAuditLogHook(pkglogger.NewAuditLogger(logger, cfg.Server.Env)),
		audit,
	}

	var alerts *services.SecurityAlertHook
	if cfg.Email.FromAddress != "" {
		sender, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize email service: %w", err)
		}
		alerts = services.NewSecurityAlertHook(sender, logger)
		hooks = append(hooks, alerts)
	}

	authService, err := services.NewAuthService(services.AuthDependencies{
		Store:      userRepo,
		Passwords:  pkgauth.NewPasswordManager(cfg.Auth.BcryptCost),
		Backup:     auth.NewBackupCodeManager(pkgauth.NewPasswordManager(cfg.Auth.BackupCodeBcryptCost)),
		TOTP:       totp,
		Tokens:     tokens,
		Lockouts:   lockouts,
		Limiter:    limiter,
		Policies:   cfg.RateLimit.Policies,
		Identities: identities,
		Pool: workers.NewPool(workers.Config{
			Workers:    cfg.Workers.Count,
			QueueDepth: cfg.Workers.QueueDepth,
			Timeout:    cfg.Workers.Timeout,
		}),
		Delay: auth.NewFailureDelay(auth.FailureDelayConfig{
			Base:   time.Duration(cfg.Auth.FailureDelayBaseMs) * time.Millisecond,
			Jitter: time.Duration(cfg.Auth.FailureDelayJitterMs) * time.Millisecond,
		}),
		Hooks:        hooks,
		Logger:       logger,
		StoreTimeout: cfg.Database.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		created, err := authService.BootstrapAdmin(bootCtx, cfg.Auth.AdminUsername, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
		cancel()
		if err != nil {
			logger.Error("failed to ensure admin user", slog.Any("error", err))
		} else if created {
			logger.Info("bootstrap admin user created", slog.String("email", pkglogger.SanitizedEmail(cfg.Auth.AdminEmail)))
		}
	}

	ips := pkghttp.NewClientIPResolver(&pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies})
	authn := auth.NewAuthenticator(tokens, identities, authService, logger)
	cookies := auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}

	router := routes.NewRouter(routes.Handlers{
		Auth:      handlers.NewAuthHandler(authService, ips, cookies, logger),
		TwoFactor: handlers.NewTwoFactorHandler(authService, ips, logger),
		Admin:     handlers.NewAdminHandler(authService, ips, logger),
		Audit:     handlers.NewAuditHandler(audit, logger),
	}, authn, db, ips, routes.Options{
		Env:            cfg.Server.Env,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		APIRateLimit: middleware.RateLimitConfig{
			Requests: cfg.RateLimit.APIRequests,
			Window:   cfg.RateLimit.APIWindow,
		},
	}, logger)

	cleanupManager := background.NewCleanupManager(
		map[string]background.Sweeper{
			"lockout":    lockouts,
			"rate_limit": memLimiter,
		},
		audit,
		cfg.Database.EventRetentionDays,
		logger,
		cfg.Auth.CleanupInterval,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if alerts != nil {
		alerts.Wait()
	}

	logger.Info("server stopped gracefully")
	return nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}
	return client, nil
}
