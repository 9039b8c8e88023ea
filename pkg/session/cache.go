package session

import (
	"sync"
	"time"
)

// Cache is the in-memory read path for session verification. It is a
// derived, rebuildable projection of the persistent store: every Save and
// Remove writes through to it, so a cache miss reliably means "no such
// trusted session" and reads never touch storage.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]time.Time // id -> expiry
}

// NewCache creates an empty session cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]time.Time),
	}
}

// Put records a session expiry.
func (c *Cache) Put(id string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = expiresAt
}

// Evict removes a session. Evicting an unknown id is a no-op.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// IsValid reports whether the session is present and unexpired.
func (c *Cache) IsValid(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiresAt, ok := c.entries[id]
	return ok && time.Now().Before(expiresAt)
}

// Len returns the number of cached sessions, expired entries included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PruneExpired drops entries whose expiry has passed.
func (c *Cache) PruneExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, expiresAt := range c.entries {
		if !now.Before(expiresAt) {
			delete(c.entries, id)
		}
	}
}
