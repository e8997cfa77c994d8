package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/wakaruku/station-auth/internal/database"
	"github.com/wakaruku/station-auth/internal/models"
)

const userColumns = `id, username, email, password_hash, role, two_factor_enabled, two_factor_secret,
	backup_code_hashes, is_active, last_login_at, failed_login_attempts, locked_until,
	password_changed_at, token_version, created_at, updated_at`

// UserRepository is the Postgres credential store. Every mutation is a single
// statement so concurrent requests against one account never lose an update.
type UserRepository struct {
	pool *pgxpool.Pool
}

var _ models.CredentialStore = (*UserRepository)(nil)

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var backupCodes []string

	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
		&user.TwoFactorEnabled, &user.TwoFactorSecret, pq.Array(&backupCodes),
		&user.IsActive, &user.LastLoginAt, &user.FailedLoginAttempts, &user.LockedUntil,
		&user.PasswordChangedAt, &user.TokenVersion, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.BackupCodeHashes = nonNil(backupCodes)
	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.PasswordChangedAt == nil {
		user.PasswordChangedAt = &now
	}
	if user.Role == "" {
		user.Role = models.RoleAttendant
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, role, is_active, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Username, strings.ToLower(user.Email), user.PasswordHash, user.Role,
		user.IsActive, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

// FindByIdentifier matches a username or an email, case-insensitively
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
		LIMIT 1
	`

	return scanUserRow(r.pool.QueryRow(ctx, query, strings.TrimSpace(identifier)))
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// IncrementFailures adds one to the persisted failure counter and returns the new value
func (r *UserRepository) IncrementFailures(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment login failures: %w", database.MapPostgresError(err))
	}
	return count, nil
}

// SetLockout sets or clears locked_until. The failure counter restarts either way.
func (r *UserRepository) SetLockout(ctx context.Context, id string, until *time.Time) error {
	query := `
		UPDATE users
		SET locked_until = $2, failed_login_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, until)
	if err != nil {
		return fmt.Errorf("failed to set lockout: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE users
		SET token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version
	`
	return r.returningVersion(ctx, query, id)
}

// UpdatePasswordHash stores the new hash and bumps the token version in the same statement
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) (int, error) {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = NOW(),
		    token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version
	`
	return r.returningVersion(ctx, query, id, hash)
}

func (r *UserRepository) UpdateTwoFactorState(ctx context.Context, id string, state models.TwoFactorState) error {
	query := `
		UPDATE users
		SET two_factor_enabled = $2, two_factor_secret = $3, backup_code_hashes = $4, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, state.Enabled, state.Secret, pq.Array(nonNil(state.BackupCodeHashes)))
	if err != nil {
		return fmt.Errorf("failed to update two-factor state: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ReplaceBackupCodes swaps the hash list only if it still equals expected.
// It returns false when another request consumed a code first.
func (r *UserRepository) ReplaceBackupCodes(ctx context.Context, id string, expected, remaining []string) (bool, error) {
	query := `
		UPDATE users
		SET backup_code_hashes = $3, updated_at = NOW()
		WHERE id = $1 AND backup_code_hashes = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, pq.Array(nonNil(expected)), pq.Array(nonNil(remaining)))
	if err != nil {
		return false, fmt.Errorf("failed to replace backup codes: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// RecordLogin stamps last_login_at and clears any failure state
func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE users
		SET last_login_at = $2, failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to record login: %w", database.MapPostgresError(err))
	}
	return nil
}

// UpdateRole changes the role and revokes outstanding tokens
func (r *UserRepository) UpdateRole(ctx context.Context, id, role string) (int, error) {
	query := `
		UPDATE users
		SET role = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version
	`
	return r.returningVersion(ctx, query, id, role)
}

// SetActive flips the active flag and revokes outstanding tokens
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) (int, error) {
	query := `
		UPDATE users
		SET is_active = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version
	`
	return r.returningVersion(ctx, query, id, active)
}

// UpdateEmail replaces the email. The unique index turns a taken address into ErrConflict.
func (r *UserRepository) UpdateEmail(ctx context.Context, id, email string) (*models.User, error) {
	query := `
		UPDATE users
		SET email = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	updated, err := scanUserRow(r.pool.QueryRow(ctx, query, id, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return nil, fmt.Errorf("failed to update email: %w", err)
	}
	return updated, nil
}

func (r *UserRepository) returningVersion(ctx context.Context, query string, args ...interface{}) (int, error) {
	var version int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return version, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
