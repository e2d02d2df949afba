// Package dedup tracks replay ids that already triggered a broadcast. When
// several followed players share a team game, each of their poll loops
// observes the same replay; this cache is the only thing standing between
// that and a duplicate notification, so the check-and-mark step is atomic.
package dedup

import (
	"sync"
	"time"
)

const (
	DefaultWindow     = 30 * time.Minute
	DefaultMaxEntries = 4096
)

// Cache is a bounded set of recently notified replay ids. Entries expire
// after the window; the window only needs to outlive the slowest poller's
// detection lag, not the process lifetime.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]time.Time // id -> expiry
	window     time.Duration
	maxEntries int
}

func New(window time.Duration, maxEntries int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    map[string]time.Time{},
		window:     window,
		maxEntries: maxEntries,
	}
}

// Seen reports whether the id is currently marked, without marking it.
func (c *Cache) Seen(id string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.entries[id]
	return ok && now.Before(until)
}

// MarkSeen marks the id and reports whether this call was the first to do so
// within the window. Concurrent callers for the same id get exactly one true.
func (c *Cache) MarkSeen(id string) (first bool) {
	if id == "" {
		return false
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if until, ok := c.entries[id]; ok && now.Before(until) {
		return false
	}
	c.entries[id] = now.Add(c.window)
	if len(c.entries) > c.maxEntries {
		c.evictLocked(now)
	}
	return true
}

// Prune drops expired entries. Called periodically by the persistence loop.
func (c *Cache) Prune() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, until := range c.entries {
		if !now.Before(until) {
			delete(c.entries, id)
		}
	}
}

// evictLocked drops expired entries, then oldest ones if the cache is still
// over capacity.
func (c *Cache) evictLocked(now time.Time) {
	for id, until := range c.entries {
		if !now.Before(until) {
			delete(c.entries, id)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestID string
		var oldest time.Time
		for id, until := range c.entries {
			if oldestID == "" || until.Before(oldest) {
				oldestID, oldest = id, until
			}
		}
		delete(c.entries, oldestID)
	}
}

// Entries returns a copy of the live entries for persistence.
func (c *Cache) Entries() map[string]time.Time {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.entries))
	for id, until := range c.entries {
		if now.Before(until) {
			out[id] = until
		}
	}
	return out
}

// Restore seeds the cache from persisted entries, keeping only unexpired ones.
func (c *Cache) Restore(entries map[string]time.Time) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, until := range entries {
		if now.Before(until) {
			c.entries[id] = until
		}
	}
}

// Len reports the number of entries, expired ones included until pruning.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
