package auth

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	DefaultBackupCodeCount = 10
	BackupCodeLength       = 8

	// No 0/O or 1/I/L
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// PasswordHasher is satisfied by pkg/auth.PasswordManager
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// BackupCodeManager issues and consumes single-use recovery codes
type BackupCodeManager struct {
	hasher PasswordHasher
}

func NewBackupCodeManager(hasher PasswordHasher) *BackupCodeManager {
	return &BackupCodeManager{hasher: hasher}
}

// GenerateBackupCodes returns count plaintext codes and their hashes in the same order.
// Only the hashes may be persisted.
func (bm *BackupCodeManager) GenerateBackupCodes(count int) ([]string, []string, error) {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}

	codes := make([]string, count)
	hashes := make([]string, count)
	for i := 0; i < count; i++ {
		code, err := randomCode(BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		hash, err := bm.hasher.Hash(code)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		codes[i] = code
		hashes[i] = hash
	}

	return codes, hashes, nil
}

// ConsumeBackupCode checks code against every hash and, on a match, returns the
// list without that hash. All hashes are compared regardless of where the match
// is, so timing does not reveal its position.
func (bm *BackupCodeManager) ConsumeBackupCode(code string, hashes []string) (bool, []string) {
	normalized := NormalizeBackupCode(code)
	if len(normalized) != BackupCodeLength {
		return false, hashes
	}

	matched := -1
	for i, hash := range hashes {
		if bm.hasher.Verify(normalized, hash) && matched < 0 {
			matched = i
		}
	}

	if matched < 0 {
		return false, hashes
	}

	remaining := make([]string, 0, len(hashes)-1)
	remaining = append(remaining, hashes[:matched]...)
	remaining = append(remaining, hashes[matched+1:]...)
	return true, remaining
}

// NormalizeBackupCode trims separators and uppercases user input
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "")
}

// randomCode draws from backupCodeCharset with rejection sampling to avoid modulo bias
func randomCode(length int) (string, error) {
	const limit = 256 - 256%len(backupCodeCharset)

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, backupCodeCharset[int(b)%len(backupCodeCharset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
