package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/wakaruku/station-auth/internal/auth"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/ratelimit"
)

// Second factor methods recorded with login events
const (
	methodTOTP       = "totp"
	methodBackupCode = "backup_code"
)

// EnableTwoFactor starts setup: a fresh secret is sealed and stored while
// two-factor stays disabled until VerifyTwoFactor proves the device works
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID string, client models.ClientInfo) (*auth.TOTPSecret, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, models.ErrTwoFactorAlreadyEnabled
	}

	secret, err := s.totp.GenerateSecret(user.Username)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	sealed, err := s.totp.Seal(secret.Secret)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to seal totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.UpdateTwoFactorState(ctx, userID, models.TwoFactorState{Secret: sealed})
	}); err != nil {
		return nil, err
	}
	s.identities.Invalidate(userID)

	s.emit(ctx, models.EventTwoFactorEnable, client, user, "", nil, map[string]string{"stage": "pending"})
	return secret, nil
}

// VerifyTwoFactor completes setup with a current code and returns the backup
// codes. They are shown once; only their hashes are stored.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID, code string, client models.ClientInfo) ([]string, error) {
	if err := s.admit(ctx, ratelimit.OpTwoFactor, userID); err != nil {
		return nil, err
	}

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, models.ErrTwoFactorAlreadyEnabled
	}
	if len(user.TwoFactorSecret) == 0 {
		return nil, models.ErrTwoFactorNotPending
	}

	ok, err := s.verifyTOTP(ctx, user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.emit(ctx, models.EventTwoFactorVerify, client, user, "", models.ErrInvalidTwoFactorCode, nil)
		return nil, models.ErrInvalidTwoFactorCode
	}

	codes, hashes, err := s.generateBackupCodes(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.UpdateTwoFactorState(ctx, userID, models.TwoFactorState{
			Enabled:          true,
			Secret:           user.TwoFactorSecret,
			BackupCodeHashes: hashes,
		})
	}); err != nil {
		return nil, err
	}
	s.identities.Invalidate(userID)

	s.logger.InfoContext(ctx, "two-factor enabled", slog.String("user_id", userID))
	s.emit(ctx, models.EventTwoFactorVerify, client, user, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor requires the account password again
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID, password string, client models.ClientInfo) error {
	if err := s.admit(ctx, ratelimit.OpTwoFactor, userID); err != nil {
		return err
	}

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return models.ErrTwoFactorNotEnabled
	}

	matched, err := s.verifyPassword(ctx, password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !matched {
		s.emit(ctx, models.EventTwoFactorDisable, client, user, "", models.ErrInvalidCredential, nil)
		return models.ErrInvalidCredential
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.UpdateTwoFactorState(ctx, userID, models.TwoFactorState{})
	}); err != nil {
		return err
	}
	s.identities.Invalidate(userID)

	s.logger.InfoContext(ctx, "two-factor disabled", slog.String("user_id", userID))
	s.emit(ctx, models.EventTwoFactorDisable, client, user, "", nil, nil)
	return nil
}

// UseBackupCode consumes one backup code and reports how many remain
func (s *AuthService) UseBackupCode(ctx context.Context, userID, code string, client models.ClientInfo) (int, error) {
	if err := s.admit(ctx, ratelimit.OpBackupCode, userID); err != nil {
		return 0, err
	}

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !user.TwoFactorEnabled {
		return 0, models.ErrTwoFactorNotEnabled
	}

	remaining, err := s.consumeBackupCode(ctx, user, code)
	if err != nil {
		s.emit(ctx, models.EventBackupCodeUsed, client, user, "", err, nil)
		return 0, err
	}

	s.emit(ctx, models.EventBackupCodeUsed, client, user, "", nil, map[string]string{"remaining": strconv.Itoa(remaining)})
	return remaining, nil
}

// checkSecondFactor verifies whichever factor the login carried and names it
func (s *AuthService) checkSecondFactor(ctx context.Context, user *models.User, in LoginInput) (string, error) {
	switch {
	case in.TwoFactorCode != "":
		ok, err := s.verifyTOTP(ctx, user, in.TwoFactorCode)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", models.ErrInvalidTwoFactorCode
		}
		return methodTOTP, nil
	case in.BackupCode != "":
		if _, err := s.consumeBackupCode(ctx, user, in.BackupCode); err != nil {
			return "", err
		}
		return methodBackupCode, nil
	default:
		return "", models.ErrTwoFactorRequired
	}
}

func (s *AuthService) verifyTOTP(ctx context.Context, user *models.User, code string) (bool, error) {
	secret, err := s.totp.Open(user.TwoFactorSecret)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to open totp secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	var ok bool
	err = s.retry(ctx, func(ctx context.Context) error {
		var valid bool
		if err := s.pool.Do(ctx, func() error {
			valid = s.totp.VerifyCode(secret, code)
			return nil
		}); err != nil {
			return err
		}
		ok = valid
		return nil
	})
	return ok, err
}

// consumeBackupCode removes the matching hash with a compare-and-set. When the
// stored list changed underneath, it reloads and tries once more, so two
// concurrent uses of the same code cannot both succeed.
func (s *AuthService) consumeBackupCode(ctx context.Context, user *models.User, code string) (int, error) {
	hashes := user.BackupCodeHashes
	for attempt := 0; attempt < 2; attempt++ {
		var matched bool
		var remaining []string
		err := s.retry(ctx, func(ctx context.Context) error {
			var ok bool
			var rest []string
			if err := s.pool.Do(ctx, func() error {
				ok, rest = s.backup.ConsumeBackupCode(code, hashes)
				return nil
			}); err != nil {
				return err
			}
			matched, remaining = ok, rest
			return nil
		})
		if err != nil {
			return 0, err
		}
		if !matched {
			return 0, models.ErrInvalidTwoFactorCode
		}

		var swapped bool
		expected := hashes
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			var err error
			swapped, err = s.store.ReplaceBackupCodes(ctx, user.ID, expected, remaining)
			return err
		}); err != nil {
			return 0, err
		}
		if swapped {
			user.BackupCodeHashes = remaining
			return len(remaining), nil
		}

		fresh, err := s.findByID(ctx, user.ID)
		if err != nil {
			return 0, err
		}
		hashes = fresh.BackupCodeHashes
	}
	return 0, models.ErrInvalidTwoFactorCode
}

func (s *AuthService) generateBackupCodes(ctx context.Context) ([]string, []string, error) {
	var codes, hashes []string
	err := s.retry(ctx, func(ctx context.Context) error {
		var c, h []string
		if err := s.pool.Do(ctx, func() error {
			var err error
			c, h, err = s.backup.GenerateBackupCodes(s.backupCodeCount)
			return err
		}); err != nil {
			return err
		}
		codes, hashes = c, h
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrUnavailable) {
		s.logger.ErrorContext(ctx, "failed to generate backup codes", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}
	return codes, hashes, err
}
