package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wakaruku/station-auth/internal/database"
	"github.com/wakaruku/station-auth/internal/models"
)

const authEventColumns = `id, event_type, user_id, COALESCE(identifier, ''), success, COALESCE(reason, ''),
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), metadata, created_at`

// AuthEventRepository persists the security event trail
type AuthEventRepository struct {
	pool *pgxpool.Pool
}

func NewAuthEventRepository(db *database.DB) *AuthEventRepository {
	return &AuthEventRepository{pool: db.Pool}
}

func scanAuthEventRow(row rowScanner) (*models.AuthEvent, error) {
	var event models.AuthEvent

	err := row.Scan(
		&event.ID, &event.EventType, &event.UserID, &event.Identifier, &event.Success,
		&event.Reason, &event.IPAddress, &event.UserAgent, &event.Metadata, &event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

func scanAuthEventRows(rows pgx.Rows) ([]*models.AuthEvent, error) {
	defer rows.Close()

	events := make([]*models.AuthEvent, 0)
	for rows.Next() {
		event, err := scanAuthEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth event rows: %w", err)
	}

	return events, nil
}

// Create inserts an event and returns it with its generated id
func (r *AuthEventRepository) Create(ctx context.Context, event *models.AuthEvent) (*models.AuthEvent, error) {
	query := `
		INSERT INTO auth_events (event_type, user_id, identifier, success, reason, ip_address, user_agent, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING ` + authEventColumns

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	created, err := scanAuthEventRow(r.pool.QueryRow(ctx, query,
		event.EventType, event.UserID, event.Identifier, event.Success, event.Reason,
		event.IPAddress, event.UserAgent, metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth event: %w", err)
	}

	return created, nil
}

// ListRecent returns the newest events first, optionally for one user
func (r *AuthEventRepository) ListRecent(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error) {
	query := `
		SELECT ` + authEventColumns + `
		FROM auth_events
		WHERE ($1 = '' OR user_id = NULLIF($1, '')::uuid)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}

	return scanAuthEventRows(rows)
}

// Cleanup removes events older than the retention period
func (r *AuthEventRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM auth_events
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup auth events: %w", err)
	}

	return result.RowsAffected(), nil
}
