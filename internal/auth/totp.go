package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	TOTPDigits      = 6
	TOTPPeriod      = 30
	TOTPSecretSize  = 32 // bytes, 256 bits before base32 encoding
	DefaultTOTPSkew = 2
)

// TOTPConfig configures one-time-code generation and secret sealing
type TOTPConfig struct {
	Issuer        string
	EncryptionKey []byte // 32-byte AES-256 key
	Skew          uint   // accepted steps either side of the current one
}

// TOTPSecret is returned once, when two-factor setup starts
type TOTPSecret struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
	ManualEntryKey  string `json:"manual_entry_key"`
}

// TOTPManager handles TOTP generation, encryption, and validation
type TOTPManager struct {
	encryptionKey []byte
	issuer        string
	skew          uint
	now           func() time.Time
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(config TOTPConfig) (*TOTPManager, error) {
	if len(config.EncryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(config.EncryptionKey))
	}

	return &TOTPManager{
		encryptionKey: config.EncryptionKey,
		issuer:        config.Issuer,
		skew:          config.Skew,
		now:           time.Now,
	}, nil
}

// GenerateSecret creates a base32 secret plus everything an authenticator app needs to enrol it
func (tm *TOTPManager) GenerateSecret(label string) (*TOTPSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: label,
		SecretSize:  TOTPSecretSize,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPSecret{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
		ManualEntryKey:  key.Secret(),
	}, nil
}

// VerifyCode accepts the code for the current 30-second step or any step within
// the configured skew. Anything that is not exactly six digits is rejected
// before a code is computed.
func (tm *TOTPManager) VerifyCode(secret, code string) bool {
	if !isNumericCode(code, TOTPDigits) || secret == "" {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, tm.now(), totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      tm.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}

func isNumericCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Seal encrypts a secret with AES-256-GCM. The nonce is prefixed to the ciphertext.
func (tm *TOTPManager) Seal(secret string) ([]byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, []byte(secret), nil), nil
}

// Open reverses Seal
func (tm *TOTPManager) Open(sealed []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}

	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("sealed secret too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
