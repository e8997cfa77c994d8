package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper drops idle entries from an in-memory table and reports how many went
type Sweeper interface {
	Sweep() int
}

// EventPruner deletes persisted auth events older than the retention period
type EventPruner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// CleanupManager periodically sweeps the lockout and rate-limit tables and
// prunes auth events past retention
type CleanupManager struct {
	sweepers      map[string]Sweeper
	events        EventPruner
	retentionDays int
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewCleanupManager creates a new cleanup manager. events may be nil.
func NewCleanupManager(
	sweepers map[string]Sweeper,
	events EventPruner,
	retentionDays int,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sweepers:      sweepers,
		events:        events,
		retentionDays: retentionDays,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start runs the cleanup loop until Stop is called or ctx is cancelled
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep of every table
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	for name, s := range cm.sweepers {
		if n := s.Sweep(); n > 0 {
			cm.logger.Debug("swept idle entries", slog.String("table", name), slog.Int("removed", n))
		}
	}

	if cm.events == nil || cm.retentionDays <= 0 {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := cm.events.Cleanup(cleanupCtx, cm.retentionDays)
	if err != nil {
		cm.logger.Error("failed to prune auth events", slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("auth event cleanup completed", slog.Int64("rows_deleted", rows))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
