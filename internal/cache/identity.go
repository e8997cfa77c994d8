// Package cache holds the short-lived identity cache consulted on authenticated requests.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/wakaruku/station-auth/internal/models"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxEntries  = 10000
	DefaultLoadTimeout = 10 * time.Second
)

// Loader fetches the authoritative view on a cache miss
type Loader func(ctx context.Context, id string) (*models.UserView, error)

// IdentityCache maps a subject id to its denormalized view for at most TTL
// after insertion. Invalidate must be called by every operation that changes
// security-relevant user state.
//
// Fills go through Load, which discards the loaded view if any invalidation
// happened while the loader was running. This prevents a lookup that started
// before a password change from re-populating the cache with the old state.
type IdentityCache struct {
	entries *expirable.LRU[string, *models.UserView]
	group   singleflight.Group

	// loadTimeout bounds a shared fill, which outlives any single caller
	loadTimeout time.Duration

	mu    sync.Mutex
	epoch uint64
}

func NewIdentityCache(maxEntries int, ttl time.Duration) *IdentityCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdentityCache{
		entries:     expirable.NewLRU[string, *models.UserView](maxEntries, nil, ttl),
		loadTimeout: DefaultLoadTimeout,
	}
}

// Get returns a copy of the cached view
func (c *IdentityCache) Get(id string) (*models.UserView, bool) {
	view, ok := c.entries.Get(id)
	if !ok {
		return nil, false
	}
	clone := *view
	return &clone, true
}

// Put stores view unconditionally
func (c *IdentityCache) Put(id string, view *models.UserView) {
	clone := *view
	c.mu.Lock()
	c.entries.Add(id, &clone)
	c.mu.Unlock()
}

// Invalidate removes id and fences off fills that are already in flight
func (c *IdentityCache) Invalidate(id string) {
	c.mu.Lock()
	c.epoch++
	c.entries.Remove(id)
	c.mu.Unlock()
}

// Load returns the cached view or calls loader and caches its result.
// Concurrent misses for the same id share one loader call. The loader runs
// detached from ctx so one cancelled caller cannot fail the others; each
// caller still stops waiting when its own ctx ends.
func (c *IdentityCache) Load(ctx context.Context, id string, loader Loader) (*models.UserView, error) {
	if view, ok := c.Get(id); ok {
		return view, nil
	}

	c.mu.Lock()
	start := c.epoch
	c.mu.Unlock()

	// Callers arriving after an invalidation must not join a fill that began before it
	flight := id + "#" + strconv.FormatUint(start, 10)

	ch := c.group.DoChan(flight, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		view, err := loader(loadCtx, id)
		if err != nil {
			return nil, err
		}

		clone := *view
		c.mu.Lock()
		if c.epoch == start {
			c.entries.Add(id, &clone)
		}
		c.mu.Unlock()
		return view, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		view := *res.Val.(*models.UserView)
		return &view, nil
	}
}

// Len returns the number of live entries
func (c *IdentityCache) Len() int {
	return c.entries.Len()
}
