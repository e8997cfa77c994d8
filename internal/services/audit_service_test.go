package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakaruku/station-auth/internal/models"
	"github.com/wakaruku/station-auth/internal/services"
)

// MockAuthEventRepository implements AuthEventRepository for testing
type MockAuthEventRepository struct {
	mu          sync.Mutex
	events      []*models.AuthEvent
	createErr   error
	ctxErr      error
	lastLimit   int
	lastOffset  int
	lastUserID  string
	cleanupDays int
}

func (m *MockAuthEventRepository) Create(ctx context.Context, event *models.AuthEvent) (*models.AuthEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.events = append(m.events, event)
	return event, nil
}

func (m *MockAuthEventRepository) ListRecent(_ context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUserID, m.lastLimit, m.lastOffset = userID, limit, offset
	return m.events, nil
}

func (m *MockAuthEventRepository) Cleanup(_ context.Context, olderThanDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupDays = olderThanDays
	return 7, nil
}

func TestAuditService_OnOutcomePersists(t *testing.T) {
	repo := &MockAuthEventRepository{}
	svc := services.NewAuditService(repo, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc.OnOutcome(ctx, &models.AuthEvent{EventType: models.EventLogin, Success: true, CreatedAt: time.Now()})

	require.Len(t, repo.events, 1)
	assert.NoError(t, repo.ctxErr, "write must not inherit the request cancellation")
}

func TestAuditService_OnOutcomeSwallowsErrors(t *testing.T) {
	repo := &MockAuthEventRepository{createErr: errors.New("db down")}
	svc := services.NewAuditService(repo, discardLogger())

	assert.NotPanics(t, func() {
		svc.OnOutcome(context.Background(), &models.AuthEvent{EventType: models.EventLogin})
	})
}

func TestAuditService_ListRecentClampsPaging(t *testing.T) {
	repo := &MockAuthEventRepository{}
	svc := services.NewAuditService(repo, discardLogger())
	ctx := context.Background()

	tests := []struct {
		name          string
		limit, offset int
		wantLimit     int
		wantOffset    int
	}{
		{"defaults", 0, 0, 50, 0},
		{"explicit", 20, 40, 20, 40},
		{"too large", 500, 0, 50, 0},
		{"negative offset", 10, -5, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ListRecent(ctx, "user-1", tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, "user-1", repo.lastUserID)
			assert.Equal(t, tt.wantLimit, repo.lastLimit)
			assert.Equal(t, tt.wantOffset, repo.lastOffset)
		})
	}
}

func TestAuditService_Cleanup(t *testing.T) {
	repo := &MockAuthEventRepository{}
	svc := services.NewAuditService(repo, discardLogger())

	n, err := svc.Cleanup(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 90, repo.cleanupDays)
}

func TestAuditService_RecordsServiceOutcomes(t *testing.T) {
	repo := &MockAuthEventRepository{}
	audit := services.NewAuditService(repo, discardLogger())

	f, err := services.NewAuthFixture(nil)
	require.NoError(t, err)
	f.Service.AddHook(audit)

	_, err = f.Service.Login(context.Background(), services.LoginInput{Identifier: "nobody", Password: "Wr0ng!Pass"},
		models.ClientInfo{IP: "198.51.100.7", UserAgent: "pos-terminal/1.0"})
	require.ErrorIs(t, err, models.ErrInvalidCredential)

	require.Len(t, repo.events, 1)
	event := repo.events[0]
	assert.Equal(t, models.EventLogin, event.EventType)
	assert.False(t, event.Success)
	assert.Equal(t, "invalid_credentials", event.Reason)
	assert.Equal(t, "nobody", event.Identifier)
	assert.Equal(t, "198.51.100.7", event.IPAddress)
}
