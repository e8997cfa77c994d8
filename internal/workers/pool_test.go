package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsWork(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueDepth: 2, Timeout: time.Second})

	ran := false
	err := pool.Do(context.Background(), func() error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestPool_PropagatesWorkError(t *testing.T) {
	pool := NewPool(Config{Workers: 1, Timeout: time.Second})
	boom := errors.New("boom")

	err := pool.Do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTransient(err))
}

func TestPool_FailsFastWhenSaturated(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueDepth: 0, Timeout: 5 * time.Second})
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	start := time.Now()
	err := pool.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolSaturated)
	assert.True(t, IsTransient(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	wg.Wait()
}

func TestPool_QueuedCallerWaitsForSlot(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueDepth: 1, Timeout: 5 * time.Second})
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ran := false
	err := pool.Do(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	wg.Wait()
}

func TestPool_Timeout(t *testing.T) {
	pool := NewPool(Config{Workers: 1, Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	err := pool.Do(context.Background(), func() error {
		<-release
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(Config{Workers: 3, QueueDepth: 100, Timeout: 5 * time.Second})

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), func() error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}
