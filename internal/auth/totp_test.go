package auth

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	tm, err := NewTOTPManager(TOTPConfig{
		Issuer:        "Wakaruku Petrol Station",
		EncryptionKey: bytes.Repeat([]byte{0x42}, 32),
		Skew:          DefaultTOTPSkew,
	})
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		_, err := NewTOTPManager(TOTPConfig{EncryptionKey: make([]byte, n)})
		assert.Error(t, err, "key length %d", n)
	}
}

func TestTOTPManager_GenerateSecret(t *testing.T) {
	tm := testTOTPManager(t)

	secret, err := tm.GenerateSecret("alice")
	require.NoError(t, err)

	// 32 bytes base32 encoded without padding
	assert.Len(t, secret.Secret, 52)
	assert.Equal(t, secret.Secret, secret.ManualEntryKey)
	assert.True(t, strings.HasPrefix(secret.ProvisioningURI, "otpauth://totp/"))
	assert.Contains(t, secret.ProvisioningURI, "issuer=Wakaruku")
	assert.True(t, strings.HasPrefix(secret.QRCode, "data:image/png;base64,"))

	other, err := tm.GenerateSecret("alice")
	require.NoError(t, err)
	assert.NotEqual(t, secret.Secret, other.Secret)
}

func TestTOTPManager_VerifyCode_Window(t *testing.T) {
	tm := testTOTPManager(t)
	secret, err := tm.GenerateSecret("alice")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 8, 0, 15, 0, time.UTC)
	tm.now = func() time.Time { return now }

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current step", 0, true},
		{"one step back", -30 * time.Second, true},
		{"two steps back", -60 * time.Second, true},
		{"one step ahead", 30 * time.Second, true},
		{"two steps ahead", 60 * time.Second, true},
		{"three steps back", -90 * time.Second, false},
		{"three steps ahead", 90 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := totp.GenerateCode(secret.Secret, now.Add(tt.offset))
			require.NoError(t, err)
			assert.Equal(t, tt.want, tm.VerifyCode(secret.Secret, code))
		})
	}
}

func TestTOTPManager_VerifyCode_RejectsMalformed(t *testing.T) {
	tm := testTOTPManager(t)
	secret, err := tm.GenerateSecret("alice")
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456", "١٢٣٤٥٦"} {
		assert.False(t, tm.VerifyCode(secret.Secret, code), "code %q", code)
	}
	assert.False(t, tm.VerifyCode("", "123456"))
}

func TestTOTPManager_SealOpen(t *testing.T) {
	tm := testTOTPManager(t)

	sealed, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "JBSWY3DPEHPK3PXP")

	plain, err := tm.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plain)

	again, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")
}

func TestTOTPManager_Open_Tampered(t *testing.T) {
	tm := testTOTPManager(t)
	sealed, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = tm.Open(sealed)
	assert.Error(t, err)

	_, err = tm.Open([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTOTPManager_Open_WrongKey(t *testing.T) {
	tm := testTOTPManager(t)
	sealed, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	other, err := NewTOTPManager(TOTPConfig{EncryptionKey: bytes.Repeat([]byte{0x24}, 32)})
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}
