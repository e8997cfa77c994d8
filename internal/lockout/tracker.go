// Package lockout counts failed sign-in attempts per identifier and locks the
// identifier for a fixed period once a threshold is reached inside a sliding window.
package lockout

import (
	"sync"
	"time"
)

// State of a single identifier
type State int

const (
	StateClear State = iota
	StateWarming
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateWarming:
		return "warming"
	case StateLocked:
		return "locked"
	default:
		return "clear"
	}
}

// Config holds lockout thresholds
type Config struct {
	Threshold    int
	Window       time.Duration
	LockDuration time.Duration
	// Entry count above which RecordFailure sweeps idle entries inline
	SweepAbove int
}

// DefaultConfig locks after 5 failures in 15 minutes for 30 minutes
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		Window:       15 * time.Minute,
		LockDuration: 30 * time.Minute,
		SweepAbove:   10000,
	}
}

// Status is a snapshot of one identifier
type Status struct {
	State       State
	Failures    int
	LockedUntil time.Time
	RetryAfter  time.Duration
	// JustLocked is set only on the failure that crossed the threshold
	JustLocked bool
}

// Locked reports whether the identifier is currently locked
func (s Status) Locked() bool {
	return s.State == StateLocked
}

type entry struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Tracker is safe for concurrent use. Every read-modify-write on an entry
// happens under the tracker lock, so two concurrent failures can never both
// observe a count below the threshold.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	now     func() time.Time
}

// NewTracker creates a tracker; zero fields in config take their defaults
func NewTracker(config Config) *Tracker {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.LockDuration <= 0 {
		config.LockDuration = def.LockDuration
	}
	if config.SweepAbove <= 0 {
		config.SweepAbove = def.SweepAbove
	}

	return &Tracker{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Check returns the current state without recording anything. An elapsed lock
// is cleared here rather than by a background task.
func (t *Tracker) Check(key string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	e, ok := t.entries[key]
	if !ok {
		return Status{State: StateClear}
	}

	t.refresh(e, now)
	if e.idle() {
		delete(t.entries, key)
		return Status{State: StateClear}
	}
	return t.status(e, now)
}

// RecordFailure registers a failed attempt. While locked the attempt is
// rejected without being counted.
func (t *Tracker) RecordFailure(key string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	e, ok := t.entries[key]
	if !ok {
		if len(t.entries) >= t.config.SweepAbove {
			t.sweepLocked(now)
		}
		e = &entry{}
		t.entries[key] = e
	}

	t.refresh(e, now)
	if !e.lockedUntil.IsZero() {
		return t.status(e, now)
	}

	e.failures = append(e.failures, now)
	if len(e.failures) >= t.config.Threshold {
		e.lockedUntil = now.Add(t.config.LockDuration)
		e.failures = nil
		status := t.status(e, now)
		status.JustLocked = true
		return status
	}

	return t.status(e, now)
}

// Reset returns the identifier to Clear after a successful authentication
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Sweep drops entries with neither live failures nor a live lock and reports how many went
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(t.now())
}

// Len returns the number of tracked identifiers
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range t.entries {
		t.refresh(e, now)
		if e.idle() {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// refresh clears an elapsed lock and prunes failures outside the window
func (t *Tracker) refresh(e *entry, now time.Time) {
	if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
		e.lockedUntil = time.Time{}
	}

	cutoff := now.Add(-t.config.Window)
	kept := e.failures[:0]
	for _, ts := range e.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.failures = kept
}

func (t *Tracker) status(e *entry, now time.Time) Status {
	if !e.lockedUntil.IsZero() {
		return Status{
			State:       StateLocked,
			LockedUntil: e.lockedUntil,
			RetryAfter:  e.lockedUntil.Sub(now),
		}
	}
	if len(e.failures) > 0 {
		return Status{State: StateWarming, Failures: len(e.failures)}
	}
	return Status{State: StateClear}
}

func (e *entry) idle() bool {
	return e.lockedUntil.IsZero() && len(e.failures) == 0
}
