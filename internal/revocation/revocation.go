// Package revocation tracks individually revoked bearer tokens until they expire.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Set is the blacklist consulted on every authenticated request. Entries only
// need to outlive the token they describe.
type Set interface {
	Add(ctx context.Context, token string, expiresAt time.Time) error
	Contains(ctx context.Context, token string) (bool, error)
}

// Fingerprint is the key a token is stored under. Raw bearer strings are never kept.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
