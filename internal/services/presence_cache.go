package services

import (
	"sync"
	"time"
)

// CacheEntry is the in-memory record of a connected user.
type CacheEntry struct {
	UserID        string
	Username      string
	SessionHandle string
	LastSeen      time.Time
	ConnectedAt   time.Time
}

// PresenceCache is the in-memory map of connected users. Entries are copied
// in and out so callers never share mutable state with the cache.
type PresenceCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewPresenceCache returns an empty cache.
func NewPresenceCache() *PresenceCache {
	return &PresenceCache{entries: make(map[string]CacheEntry)}
}

// Get returns the entry for userID.
func (c *PresenceCache) Get(userID string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	return e, ok
}

// Put inserts or replaces the entry for e.UserID and returns the previous
// entry, if any.
func (c *PresenceCache) Put(e CacheEntry) (prev CacheEntry, replaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, replaced = c.entries[e.UserID]
	c.entries[e.UserID] = e
	return prev, replaced
}

// Touch sets LastSeen for userID. It reports false when userID is not cached.
func (c *PresenceCache) Touch(userID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return false
	}
	e.LastSeen = at
	c.entries[userID] = e
	return true
}

// Delete removes userID and returns the removed entry.
func (c *PresenceCache) Delete(userID string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if ok {
		delete(c.entries, userID)
	}
	return e, ok
}

// Len returns the number of cached users.
func (c *PresenceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of all entries.
func (c *PresenceCache) Snapshot() []CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Stale returns the ids whose LastSeen is before cutoff.
func (c *PresenceCache) Stale(cutoff time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, e := range c.entries {
		if e.LastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
