// Package ratelimit throttles request volume per client and operation with a sliding window.
package ratelimit

import (
	"context"
	"time"
)

// Operation classes. Each is counted independently for the same client.
const (
	OpLogin          = "login"
	OpRegister       = "register"
	OpRefresh        = "refresh"
	OpPasswordChange = "password_change"
	OpTwoFactor      = "2fa_verify"
	OpBackupCode     = "2fa_backup"
)

// Policy is the maximum number of admitted requests inside Window
type Policy struct {
	Window time.Duration
	Max    int
}

// Decision is the outcome of a single admission check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects one request for key. Implementations must make the
// prune, compare and append sequence atomic per key.
type Limiter interface {
	Admit(ctx context.Context, key string, policy Policy) (Decision, error)
}

// Key joins an operation class and a client identity
func Key(operation, client string) string {
	return operation + ":" + client
}

// Policies maps operation classes to their limits
type Policies map[string]Policy

// DefaultPolicies mirrors the limits the station backend has always used
func DefaultPolicies() Policies {
	return Policies{
		OpLogin:          {Window: 15 * time.Minute, Max: 20},
		OpRegister:       {Window: time.Hour, Max: 5},
		OpRefresh:        {Window: 15 * time.Minute, Max: 60},
		OpPasswordChange: {Window: time.Hour, Max: 3},
		OpTwoFactor:      {Window: 15 * time.Minute, Max: 10},
		OpBackupCode:     {Window: 15 * time.Minute, Max: 5},
	}
}

// For returns the policy for operation and whether one is configured
func (p Policies) For(operation string) (Policy, bool) {
	policy, ok := p[operation]
	if !ok || policy.Max <= 0 || policy.Window <= 0 {
		return Policy{}, false
	}
	return policy, true
}

// retryAfter is the time until oldest leaves the window, at least one second
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(window).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	if wait > window && window >= time.Second {
		wait = window
	}
	return wait
}
