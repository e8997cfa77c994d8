package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

// RateLimitConfig holds the coarse per-IP request budget for the whole API
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RateLimitByIP limits requests per client IP as resolved through trusted proxies.
// It sits in front of the per-operation limits enforced by the auth service.
func RateLimitByIP(config RateLimitConfig, ips *pkghttp.ClientIPResolver) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ips.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later", config.Window)
		}),
	)
}
