// Package cache keeps rendered pages in memory until they expire or the
// content they were built from changes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is one rendered page.
type Entry struct {
	Body      []byte
	ETag      string
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// PageCache is an in-memory page cache with TTL support
type PageCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration

	// For background cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once // Ensures Stop() is idempotent
}

// NewPageCache creates a cache whose entries live for ttl.
func NewPageCache(ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &PageCache{
		entries:         make(map[string]*Entry),
		ttl:             ttl,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached page for key.
func (c *PageCache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if entry.IsExpired() {
		c.Invalidate(key)
		return nil, false
	}

	return entry, true
}

// Set stores body under key and returns the new entry.
func (c *PageCache) Set(key string, body []byte) *Entry {
	sum := sha256.Sum256(body)
	entry := &Entry{
		Body:      body,
		ETag:      `"` + hex.EncodeToString(sum[:8]) + `"`,
		ExpiresAt: time.Now().Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry
}

// GetOrRender returns the cached page for key, calling render on a miss.
func (c *PageCache) GetOrRender(key string, render func() ([]byte, error)) (*Entry, error) {
	if entry, ok := c.Get(key); ok {
		return entry, nil
	}
	body, err := render()
	if err != nil {
		return nil, err
	}
	return c.Set(key, body), nil
}

// Invalidate removes an entry from the cache
func (c *PageCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache
func (c *PageCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// cleanupLoop periodically removes expired entries
func (c *PageCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *PageCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// Stop stops the background cleanup goroutine
// Safe to call multiple times
func (c *PageCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache (for testing)
func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
