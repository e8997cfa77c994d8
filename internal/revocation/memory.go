package revocation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// evictionWarnInterval throttles the capacity warning
const evictionWarnInterval = time.Minute

// MemorySet is a process-local blacklist bounded by capacity. The least
// recently touched entry is evicted when full, and every entry is dropped once
// maxTTL has passed, which is the longest a token can live. Evicting an entry
// whose token has not expired makes that token usable again, so those
// evictions are counted and logged.
type MemorySet struct {
	entries *expirable.LRU[string, time.Time]
	now     func() time.Time
	logger  *slog.Logger

	evictedLive atomic.Int64
	lastWarn    atomic.Int64
}

// NewMemorySet creates a blacklist holding at most capacity fingerprints.
func NewMemorySet(capacity int, maxTTL time.Duration, logger *slog.Logger) *MemorySet {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemorySet{
		now:    time.Now,
		logger: logger,
	}
	s.entries = expirable.NewLRU[string, time.Time](capacity, s.onEvict, maxTTL)
	return s
}

// onEvict runs under the LRU lock for removals, expiry and capacity
// eviction, so it must not call back into entries
func (s *MemorySet) onEvict(_ string, expiresAt time.Time) {
	now := s.now()
	if !expiresAt.After(now) {
		return
	}

	total := s.evictedLive.Add(1)
	last := s.lastWarn.Load()
	if now.UnixNano()-last < int64(evictionWarnInterval) || !s.lastWarn.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	s.logger.Warn("revocation set full, evicted unexpired entry",
		slog.Int64("evicted_live_total", total),
		slog.Duration("remaining_ttl", expiresAt.Sub(now)),
	)
}

func (s *MemorySet) Add(_ context.Context, token string, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		return nil
	}
	s.entries.Add(Fingerprint(token), expiresAt)
	return nil
}

func (s *MemorySet) Contains(_ context.Context, token string) (bool, error) {
	key := Fingerprint(token)
	expiresAt, ok := s.entries.Get(key)
	if !ok {
		return false, nil
	}
	if !expiresAt.After(s.now()) {
		s.entries.Remove(key)
		return false, nil
	}
	return true, nil
}

// Len reports the number of live entries.
func (s *MemorySet) Len() int {
	return s.entries.Len()
}

// EvictedLive reports how many entries were evicted before their token expired
func (s *MemorySet) EvictedLive() int64 {
	return s.evictedLive.Load()
}
