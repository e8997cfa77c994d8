package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinBcryptCost     = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 128

	// bcrypt only reads the first 72 bytes of its input
	bcryptMaxInput = 72
)

// Symbols accepted for the special-character class
const passwordSymbols = `!@#$%^&*(),.?":{}|<>`

// Substrings that make a password trivially guessable
var weakPatterns = []string{"password", "123456", "qwerty"}

// Known-weak passwords to reject outright (compared case-insensitively)
var commonPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"12345678":     true,
	"123456789":    true,
	"qwerty123":    true,
	"abc123":       true,
	"admin123":     true,
	"letmein":      true,
	"letmein1!":    true,
	"welcome1":     true,
	"welcome123":   true,
	"monkey123":    true,
	"dragon123":    true,
	"master123":    true,
	"passw0rd":     true,
	"p@ssw0rd":     true,
	"p@ssword1":    true,
	"sunshine1":    true,
	"princess1":    true,
	"football1":    true,
	"trustno1":     true,
	"iloveyou1":    true,
	"changeme1!":   true,
}

// ComplexityResult lists every rule a candidate password breaks.
type ComplexityResult struct {
	OK         bool
	Violations []string
}

// PasswordManager hashes and verifies passwords with bcrypt.
type PasswordManager struct {
	cost int
}

// NewPasswordManager creates a manager at the given bcrypt cost. Costs outside
// bcrypt's range fall back to DefaultBcryptCost.
func NewPasswordManager(cost int) *PasswordManager {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordManager{cost: cost}
}

// Cost returns the configured work factor.
func (pm *PasswordManager) Cost() int {
	return pm.cost
}

// Hash returns a salted bcrypt digest. Two calls on the same input differ.
func (pm *PasswordManager) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword(prepare(plaintext), pm.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches digest. Malformed digests yield false.
func (pm *PasswordManager) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prepare(plaintext)) == nil
}

// prepare collapses inputs longer than bcrypt accepts into a fixed-size digest
// so that long passphrases keep all of their entropy.
func prepare(plaintext string) []byte {
	if len(plaintext) <= bcryptMaxInput {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// ValidateComplexity checks length, character classes and the weak-password lists.
func ValidateComplexity(plaintext string) ComplexityResult {
	violations := make([]string, 0)

	length := utf8.RuneCountInString(plaintext)
	if length < MinPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if length > MaxPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, "must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain at least one digit")
	}
	if !hasSymbol {
		violations = append(violations, "must contain at least one special character")
	}

	lowered := strings.ToLower(plaintext)
	if commonPasswords[lowered] {
		violations = append(violations, "is too common, please choose a more unique password")
	} else {
		for _, pattern := range weakPatterns {
			if strings.Contains(lowered, pattern) {
				violations = append(violations, "contains a common pattern")
				break
			}
		}
	}

	return ComplexityResult{OK: len(violations) == 0, Violations: violations}
}
