package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakaruku/station-auth/internal/models"
)

func view(id string, version int) *models.UserView {
	return &models.UserView{ID: id, Username: "alice", Role: models.RoleAttendant, IsActive: true, TokenVersion: version}
}

func TestIdentityCache_PutGetInvalidate(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)

	_, ok := c.Get("u1")
	assert.False(t, ok)

	c.Put("u1", view("u1", 0))
	got, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.ID)

	c.Invalidate("u1")
	_, ok = c.Get("u1")
	assert.False(t, ok)
}

func TestIdentityCache_ReturnsCopies(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)
	c.Put("u1", view("u1", 0))

	got, _ := c.Get("u1")
	got.Role = models.RoleAdmin

	again, _ := c.Get("u1")
	assert.Equal(t, models.RoleAttendant, again.Role)
}

func TestIdentityCache_EntriesExpire(t *testing.T) {
	c := NewIdentityCache(10, 50*time.Millisecond)
	c.Put("u1", view("u1", 0))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("u1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestIdentityCache_LoadFillsOnMiss(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)
	calls := 0
	loader := func(ctx context.Context, id string) (*models.UserView, error) {
		calls++
		return view(id, 3), nil
	}

	first, err := c.Load(context.Background(), "u1", loader)
	require.NoError(t, err)
	second, err := c.Load(context.Background(), "u1", loader)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, first.TokenVersion)
	assert.Equal(t, 3, second.TokenVersion)
}

func TestIdentityCache_LoadErrorNotCached(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)
	_, err := c.Load(context.Background(), "u1", func(ctx context.Context, id string) (*models.UserView, error) {
		return nil, models.ErrNotFound
	})

	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, 0, c.Len())
}

func TestIdentityCache_InvalidationDuringLoadDiscardsFill(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)

	loading := make(chan struct{})
	release := make(chan struct{})
	done := make(chan *models.UserView)

	go func() {
		v, _ := c.Load(context.Background(), "u1", func(ctx context.Context, id string) (*models.UserView, error) {
			close(loading)
			<-release
			return view(id, 1), nil
		})
		done <- v
	}()

	<-loading
	c.Invalidate("u1")
	close(release)

	stale := <-done
	assert.Equal(t, 1, stale.TokenVersion)

	_, ok := c.Get("u1")
	assert.False(t, ok, "a view loaded before invalidation must not be cached")
}

func TestIdentityCache_ConcurrentMissesShareLoader(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)
	var calls atomic.Int32
	gate := make(chan struct{})

	loader := func(ctx context.Context, id string) (*models.UserView, error) {
		calls.Add(1)
		<-gate
		return view(id, 0), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Load(context.Background(), "u1", loader)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(10))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	_, ok := c.Get("u1")
	assert.True(t, ok)
}

func TestIdentityCache_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)
	started := make(chan struct{})
	var once sync.Once
	gate := make(chan struct{})

	loader := func(ctx context.Context, id string) (*models.UserView, error) {
		once.Do(func() { close(started) })
		<-gate
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return view(id, 3), nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Load(firstCtx, "u1", loader)
		firstErr <- err
	}()
	<-started

	type loaded struct {
		view *models.UserView
		err  error
	}
	second := make(chan loaded, 1)
	go func() {
		v, err := c.Load(context.Background(), "u1", loader)
		second <- loaded{v, err}
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 3, got.view.TokenVersion)

	cached, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 3, cached.TokenVersion)
}

func TestIdentityCache_LoadTimeoutBoundsLoader(t *testing.T) {
	c := NewIdentityCache(10, time.Minute)
	c.loadTimeout = 20 * time.Millisecond

	_, err := c.Load(context.Background(), "u1", func(ctx context.Context, id string) (*models.UserView, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.Len())
}
