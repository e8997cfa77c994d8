package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wakaruku/station-auth/internal/ratelimit"
	pkgauth "github.com/wakaruku/station-auth/pkg/auth"
)

type Config struct {
	Database      DatabaseConfig
	Server        ServerConfig
	Auth          AuthConfig
	Lockout       LockoutConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	Workers       WorkerConfig
	Redis         RedisConfig
	Email         EmailConfig
	Observability ObservabilityConfig
}

type DatabaseConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxConns           int32
	MinConns           int32
	MaxConnLifetime    time.Duration
	MaxConnIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	QueryTimeout       time.Duration
	AutoMigrate        bool
	EventRetentionDays int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type AuthConfig struct {
	AccessSecret         string
	RefreshSecret        string
	AccessTokenExpiry    time.Duration
	RefreshTokenExpiry   time.Duration
	Issuer               string
	Audience             string
	BcryptCost           int
	BackupCodeBcryptCost int
	TOTPEncryptionKey    []byte
	TOTPSkew             uint
	TOTPIssuer           string
	CookieDomain         string
	CookieSecure         bool
	CookieSameSite       string
	FailureDelayBaseMs   int
	FailureDelayJitterMs int
	RevocationCapacity   int
	CleanupInterval      time.Duration
	AdminUsername        string
	AdminEmail           string
	AdminPassword        string
}

type LockoutConfig struct {
	Threshold    int
	Window       time.Duration
	LockDuration time.Duration
}

type RateLimitConfig struct {
	Policies    ratelimit.Policies
	MaxKeys     int
	APIRequests int
	APIWindow   time.Duration
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type WorkerConfig struct {
	Count      int
	QueueDepth int
	Timeout    time.Duration
}

type RedisConfig struct {
	URL string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

type ObservabilityConfig struct {
	SentryDSN        string
	TracesSampleRate float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	accessSecret := getEnv("JWT_ACCESS_SECRET", "")
	refreshSecret := getEnv("JWT_REFRESH_SECRET", "")
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}

	totpKey, err := parseEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvAsInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "postgres"),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", "wakaruku"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxConns:           int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:           int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:    getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:    getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod:  getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:       getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
			AutoMigrate:        getEnvAsBool("DB_AUTO_MIGRATE", true),
			EventRetentionDays: getEnvAsInt("AUTH_EVENT_RETENTION_DAYS", 90),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			AccessSecret:         accessSecret,
			RefreshSecret:        refreshSecret,
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			Issuer:               getEnv("JWT_ISSUER", "wakaruku-petrol-station"),
			Audience:             getEnv("JWT_AUDIENCE", "wakaruku-api"),
			BcryptCost:           getEnvAsInt("BCRYPT_COST", pkgauth.DefaultBcryptCost),
			BackupCodeBcryptCost: getEnvAsInt("BACKUP_CODE_BCRYPT_COST", 10),
			TOTPEncryptionKey:    totpKey,
			TOTPSkew:             uint(getEnvAsInt("TOTP_SKEW", 2)),
			TOTPIssuer:           getEnv("TOTP_ISSUER", "Wakaruku Petrol Station"),
			CookieDomain:         getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:       getEnv("COOKIE_SAMESITE", "strict"),
			FailureDelayBaseMs:   getEnvAsInt("AUTH_FAILURE_DELAY_MS", 250),
			FailureDelayJitterMs: getEnvAsInt("AUTH_FAILURE_JITTER_MS", 100),
			RevocationCapacity:   getEnvAsInt("REVOCATION_CAPACITY", 100000),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 10*time.Minute),
			AdminUsername:        getEnv("ADMIN_USERNAME", ""),
			AdminEmail:           getEnv("ADMIN_EMAIL", ""),
			AdminPassword:        getEnv("ADMIN_PASSWORD", ""),
		},
		Lockout: LockoutConfig{
			Threshold:    getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			Window:       getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			LockDuration: getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Policies:    loadRatePolicies(),
			MaxKeys:     getEnvAsInt("RATE_LIMIT_MAX_KEYS", 50000),
			APIRequests: getEnvAsInt("API_RATE_LIMIT", 100),
			APIWindow:   getEnvAsDuration("API_RATE_WINDOW", 15*time.Minute),
		},
		Cache: CacheConfig{
			TTL:        getEnvAsDuration("IDENTITY_CACHE_TTL", 5*time.Minute),
			MaxEntries: getEnvAsInt("IDENTITY_CACHE_MAX_ENTRIES", 10000),
		},
		Workers: WorkerConfig{
			Count:      getEnvAsInt("HASH_WORKERS", 0),
			QueueDepth: getEnvAsInt("HASH_QUEUE_DEPTH", 64),
			Timeout:    getEnvAsDuration("HASH_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("SECURITY_ALERT_FROM", ""),
		},
		Observability: ObservabilityConfig{
			SentryDSN:        getEnv("SENTRY_DSN", ""),
			TracesSampleRate: getEnvAsFloat("SENTRY_TRACES_SAMPLE_RATE", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret("JWT_ACCESS_SECRET", accessSecret, env); err != nil {
		return nil, err
	}
	if err := validateJWTSecret("JWT_REFRESH_SECRET", refreshSecret, env); err != nil {
		return nil, err
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if cfg.Auth.BcryptCost < pkgauth.MinBcryptCost {
		return nil, fmt.Errorf("BCRYPT_COST must be at least %d (got %d)", pkgauth.MinBcryptCost, cfg.Auth.BcryptCost)
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for a signing secret
func validateJWTSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

// parseEncryptionKey decodes the base64 AES-256 key that seals TOTP secrets
func parseEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

// loadRatePolicies reads RATE_LIMIT_<OP>_MAX and RATE_LIMIT_<OP>_WINDOW for each operation class
func loadRatePolicies() ratelimit.Policies {
	policies := ratelimit.DefaultPolicies()
	for op, policy := range policies {
		prefix := "RATE_LIMIT_" + strings.ToUpper(op)
		policies[op] = ratelimit.Policy{
			Max:    getEnvAsInt(prefix+"_MAX", policy.Max),
			Window: getEnvAsDuration(prefix+"_WINDOW", policy.Window),
		}
	}
	return policies
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(value string) []string {
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
