package services

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/ratelimit"
	pkgauth "github.com/wakaruku/station-auth/pkg/auth"
)

// ChangePassword replaces the password after re-proof of the current one.
// The token version is bumped in the same statement, so every session on
// other devices ends; the caller receives a fresh pair for this one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, client models.ClientInfo) (*models.TokenPair, error) {
	if err := s.admit(ctx, ratelimit.OpPasswordChange, userID); err != nil {
		return nil, err
	}

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	matched, err := s.verifyPassword(ctx, current, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !matched {
		s.emit(ctx, models.EventPasswordChange, client, user, "", models.ErrInvalidCredential, nil)
		return nil, models.ErrInvalidCredential
	}

	if current == next {
		return nil, &models.ValidationError{Field: "new_password", Reason: "new password must differ from the current one"}
	}
	if result := pkgauth.ValidateComplexity(next); !result.OK {
		return nil, &models.ValidationError{Field: "new_password", Reason: "password does not meet requirements", Violations: result.Violations}
	}

	hash, err := s.hashPassword(ctx, next)
	if err != nil {
		return nil, err
	}

	var version int
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		version, err = s.store.UpdatePasswordHash(ctx, userID, hash)
		return err
	}); err != nil {
		return nil, err
	}
	s.identities.Invalidate(userID)

	user.PasswordHash = hash
	user.TokenVersion = version
	pair, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue tokens after password change", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", userID))
	s.emit(ctx, models.EventPasswordChange, client, user, "", nil, nil)
	return pair, nil
}

// SetRole changes a user's role and revokes their sessions. Admins cannot
// change their own role.
func (s *AuthService) SetRole(ctx context.Context, actorID, targetID, role string, client models.ClientInfo) (*models.UserView, error) {
	if !models.IsValidRole(role) {
		return nil, &models.ValidationError{Field: "role", Reason: "unknown role"}
	}
	if actorID == targetID {
		return nil, models.ErrForbidden
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		_, err := s.store.UpdateRole(ctx, targetID, role)
		return err
	}); err != nil {
		return nil, err
	}
	s.identities.Invalidate(targetID)

	user, err := s.findByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "role changed",
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
		slog.String("role", role))
	s.emit(ctx, models.EventRoleChange, client, user, "", nil, map[string]string{"actor_id": actorID, "role": role})
	return user.View(), nil
}

// SetActive activates or deactivates an account and revokes its sessions.
// Admins cannot deactivate themselves.
func (s *AuthService) SetActive(ctx context.Context, actorID, targetID string, active bool, client models.ClientInfo) (*models.UserView, error) {
	if actorID == targetID {
		return nil, models.ErrForbidden
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		_, err := s.store.SetActive(ctx, targetID, active)
		return err
	}); err != nil {
		return nil, err
	}
	s.identities.Invalidate(targetID)

	user, err := s.findByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account activation changed",
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
		slog.Bool("active", active))
	s.emit(ctx, models.EventActivationChange, client, user, "", nil, map[string]string{"actor_id": actorID, "active": strconv.FormatBool(active)})
	return user.View(), nil
}
