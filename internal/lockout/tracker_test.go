package lockout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	tracker := NewTracker(DefaultConfig())
	tracker.now = clock.Now
	return tracker, clock
}

func TestTracker_WarmingThenLocked(t *testing.T) {
	tracker, _ := newTestTracker()

	for i := 1; i <= 4; i++ {
		status := tracker.RecordFailure("alice")
		assert.Equal(t, StateWarming, status.State)
		assert.Equal(t, i, status.Failures)
		assert.False(t, status.JustLocked)
	}

	status := tracker.RecordFailure("alice")
	assert.Equal(t, StateLocked, status.State)
	assert.True(t, status.JustLocked)
	assert.Equal(t, 30*time.Minute, status.RetryAfter)
	assert.Equal(t, 0, status.Failures)
}

func TestTracker_LockedAttemptsAreNotCounted(t *testing.T) {
	tracker, clock := newTestTracker()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("alice")
	}

	clock.Advance(10 * time.Minute)
	status := tracker.RecordFailure("alice")
	assert.True(t, status.Locked())
	assert.False(t, status.JustLocked)
	assert.Equal(t, 20*time.Minute, status.RetryAfter)

	clock.Advance(20 * time.Minute)
	status = tracker.Check("alice")
	assert.Equal(t, StateClear, status.State, "lock should lapse without a recorded failure carrying over")
}

func TestTracker_LockLapsesLazily(t *testing.T) {
	tracker, clock := newTestTracker()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("bob")
	}
	require.True(t, tracker.Check("bob").Locked())

	clock.Advance(30*time.Minute - time.Second)
	assert.True(t, tracker.Check("bob").Locked())

	clock.Advance(time.Second)
	assert.Equal(t, StateClear, tracker.Check("bob").State)
	assert.Equal(t, 0, tracker.Len())

	status := tracker.RecordFailure("bob")
	assert.Equal(t, StateWarming, status.State)
	assert.Equal(t, 1, status.Failures)
}

func TestTracker_SlidingWindowPrunesOldFailures(t *testing.T) {
	tracker, clock := newTestTracker()

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("carol")
		clock.Advance(time.Minute)
	}

	// first failure is now 15 minutes old and leaves the window
	clock.Advance(11 * time.Minute)
	status := tracker.RecordFailure("carol")
	assert.Equal(t, StateWarming, status.State)
	assert.Equal(t, 4, status.Failures)
}

func TestTracker_SuccessResets(t *testing.T) {
	tracker, _ := newTestTracker()

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("dave")
	}
	tracker.Reset("dave")

	assert.Equal(t, StateClear, tracker.Check("dave").State)
	assert.Equal(t, 1, tracker.RecordFailure("dave").Failures)
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tracker, _ := newTestTracker()

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("erin")
	}

	assert.True(t, tracker.Check("erin").Locked())
	assert.Equal(t, StateClear, tracker.Check("frank").State)
}

func TestTracker_ConcurrentFailuresLockExactlyOnce(t *testing.T) {
	tracker, _ := newTestTracker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	justLocked := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.RecordFailure("grace").JustLocked {
				mu.Lock()
				justLocked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, justLocked)
	assert.True(t, tracker.Check("grace").Locked())
}

func TestTracker_Sweep(t *testing.T) {
	tracker, clock := newTestTracker()

	tracker.RecordFailure("idle")
	for i := 0; i < 5; i++ {
		tracker.RecordFailure("locked")
	}

	clock.Advance(16 * time.Minute)
	removed := tracker.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tracker.Len())
}

func TestNewTracker_Defaults(t *testing.T) {
	tracker := NewTracker(Config{})
	assert.Equal(t, DefaultConfig(), tracker.config)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "clear", StateClear.String())
	assert.Equal(t, "warming", StateWarming.String())
	assert.Equal(t, "locked", StateLocked.String())
}
