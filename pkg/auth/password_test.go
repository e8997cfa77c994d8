package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidateComplexity(t *testing.T) {
	tests := []struct {
		name          string
		password      string
		shouldFail    bool
		errorContains string
	}{
		{
			name:       "valid strong password",
			password:   "SecureP@ss123",
			shouldFail: false,
		},
		{
			name:       "registration example",
			password:   "Str0ng!Pass",
			shouldFail: false,
		},
		{
			name:          "too short",
			password:      "Pa@1",
			shouldFail:    true,
			errorContains: "at least 8 characters",
		},
		{
			name:          "missing uppercase",
			password:      "securepass@123",
			shouldFail:    true,
			errorContains: "uppercase",
		},
		{
			name:          "missing lowercase",
			password:      "SECUREPASS@123",
			shouldFail:    true,
			errorContains: "lowercase",
		},
		{
			name:          "missing digit",
			password:      "SecurePass@xyz",
			shouldFail:    true,
			errorContains: "digit",
		},
		{
			name:          "missing special character",
			password:      "SecurePass123",
			shouldFail:    true,
			errorContains: "special character",
		},
		{
			name:          "symbol outside accepted set",
			password:      "Secure~Pass1",
			shouldFail:    true,
			errorContains: "special character",
		},
		{
			name:          "denylisted password",
			password:      "P@ssw0rd",
			shouldFail:    true,
			errorContains: "too common",
		},
		{
			name:          "common pattern",
			password:      "MyPassword1!",
			shouldFail:    true,
			errorContains: "common pattern",
		},
		{
			name:          "keyboard pattern",
			password:      "Qwerty@2024",
			shouldFail:    true,
			errorContains: "common pattern",
		},
		{
			name:       "valid with multiple special chars",
			password:   "Tr0ub4dor&3{x}",
			shouldFail: false,
		},
		{
			name:          "too long",
			password:      strings.Repeat("Aa1!", 33),
			shouldFail:    true,
			errorContains: "at most 128 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateComplexity(tt.password)

			if !tt.shouldFail {
				if !result.OK {
					t.Errorf("expected no violations, got %v", result.Violations)
				}
				return
			}

			if result.OK {
				t.Fatalf("expected violations, got none")
			}
			found := false
			for _, v := range result.Violations {
				if strings.Contains(v, tt.errorContains) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a violation containing %q, got %v", tt.errorContains, result.Violations)
			}
		})
	}
}

func TestPasswordManager_HashAndVerify(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost)

	first, err := pm.Hash("Str0ng!Pass")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := pm.Hash("Str0ng!Pass")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if first == second {
		t.Error("expected distinct salts per hash")
	}
	if !pm.Verify("Str0ng!Pass", first) || !pm.Verify("Str0ng!Pass", second) {
		t.Error("expected both digests to verify")
	}
	if pm.Verify("Wr0ng!Pass", first) {
		t.Error("expected wrong password to fail")
	}
}

func TestPasswordManager_VerifyMalformedDigest(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost)

	for _, digest := range []string{"", "not-a-hash", "$2a$10$short"} {
		if pm.Verify("Str0ng!Pass", digest) {
			t.Errorf("expected false for digest %q", digest)
		}
	}
}

func TestPasswordManager_LongPassphrase(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost)
	prefix := strings.Repeat("Ab1!", 20)

	digest, err := pm.Hash(prefix + "tail-one")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if !pm.Verify(prefix+"tail-one", digest) {
		t.Error("expected long passphrase to verify")
	}
	if pm.Verify(prefix+"tail-two", digest) {
		t.Error("expected bytes past 72 to matter")
	}
}

func TestPasswordManager_EmptyPassword(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost)
	if _, err := pm.Hash(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestNewPasswordManager_InvalidCostFallsBack(t *testing.T) {
	if got := NewPasswordManager(99).Cost(); got != DefaultBcryptCost {
		t.Errorf("expected cost %d, got %d", DefaultBcryptCost, got)
	}
}
