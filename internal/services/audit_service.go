package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/wakaruku/station-auth/internal/models"
)

const auditWriteTimeout = 2 * time.Second

// AuthEventRepository persists security events
type AuthEventRepository interface {
	Create(ctx context.Context, event *models.AuthEvent) (*models.AuthEvent, error)
	ListRecent(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// AuditService persists every auth outcome to the auth_events table and
// serves the security log
type AuditService struct {
	repo   AuthEventRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuthEventRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// OnOutcome stores the event. The write survives cancellation of the request
// but is bounded by its own timeout; failures are logged and swallowed.
func (s *AuditService) OnOutcome(ctx context.Context, event *models.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if _, err := s.repo.Create(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist auth event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

// ListRecent returns events newest first. An empty userID lists all users.
func (s *AuditService) ListRecent(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListRecent(ctx, userID, limit, offset)
}

// Cleanup removes events older than the retention period
func (s *AuditService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.Cleanup(ctx, retentionDays)
}
