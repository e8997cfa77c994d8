package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 50000

type window struct {
	hits   []time.Time
	length time.Duration
}

// MemoryLimiter keeps sliding windows in process memory. The number of tracked
// keys is capped; stale windows are swept first and, if the cap still holds,
// the least recently hit windows are evicted.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	maxKeys int
	now     func() time.Time
}

func NewMemoryLimiter(maxKeys int) *MemoryLimiter {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Admit(_ context.Context, key string, policy Policy) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	w.length = policy.Window
	w.prune(now)

	if len(w.hits) >= policy.Max {
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(w.hits[0], policy.Window, now),
		}, nil
	}

	w.hits = append(w.hits, now)

	if len(l.windows) > l.maxKeys {
		l.sweepLocked(now)
		l.evictLocked(key)
	}

	return Decision{Allowed: true, Remaining: policy.Max - len(w.hits)}, nil
}

// Sweep drops windows with no hits left inside them
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

// Len returns the number of tracked keys
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		w.prune(now)
		if len(w.hits) == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) evictLocked(keep string) {
	for len(l.windows) > l.maxKeys {
		var victim string
		var victimLast time.Time
		for key, w := range l.windows {
			if key == keep || len(w.hits) == 0 {
				continue
			}
			last := w.hits[len(w.hits)-1]
			if victim == "" || last.Before(victimLast) {
				victim, victimLast = key, last
			}
		}
		if victim == "" {
			return
		}
		delete(l.windows, victim)
	}
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}
