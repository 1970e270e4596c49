// Package cache provides the concurrent TTL store used by the query
// pipeline.
//
// Entries expire lazily on read and are swept periodically by Run. Values are
// stored as-is; callers must only cache immutable values (snapshots).
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a key/value cache with per-entry expiry.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
}

type entry struct {
	value   any
	expires time.Time
}

// TTL is an in-memory Store. It is safe for concurrent use.
type TTL struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewTTL returns an empty TTL store.
func NewTTL() *TTL {
	return &TTL{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *TTL) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the value for key if present and not expired.
func (c *TTL) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok || !now.Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl is ignored.
func (c *TTL) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *TTL) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (c *TTL) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
