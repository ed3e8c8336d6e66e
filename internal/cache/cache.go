// Package cache keeps generated sandbox srcs so repeated runs of the same
// snippet skip rendering.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the cache when no limit is given.
const DefaultMaxEntries = 1024

// Entry represents a cached iframe src
type Entry struct {
	Src       string
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache defines the interface for sandbox src caching
type Cache interface {
	// Get retrieves a src from the cache
	Get(key string) (string, bool)

	// Set stores a src in the cache with the given TTL
	Set(key string, src string, ttl time.Duration)

	// InvalidateAll removes all entries from the cache
	InvalidateAll()
}

// Key derives a cache key from the parts that determine a sandbox src.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is an in-memory cache implementation with TTL support
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int

	// For background cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once // Ensures Stop() is idempotent
}

// NewMemoryCache creates a new in-memory cache holding at most maxEntries
// srcs (DefaultMaxEntries when maxEntries <= 0).
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &MemoryCache{
		entries:         make(map[string]*Entry),
		maxEntries:      maxEntries,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a src from the cache
func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return "", false
	}

	if entry.IsExpired() {
		c.Invalidate(key)
		return "", false
	}

	return entry.Src, true
}

// Set stores a src in the cache with the given TTL. A non-positive TTL
// stores nothing.
func (c *MemoryCache) Set(key string, src string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := &Entry{
		Src:       src,
		ExpiresAt: time.Now().Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = entry
}

// evictLocked drops expired entries, or the entry closest to expiring when
// none have expired yet. Callers must hold c.mu.
func (c *MemoryCache) evictLocked() {
	now := time.Now()
	var oldestKey string
	var oldest time.Time
	evicted := false
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evicted = true
			continue
		}
		if oldestKey == "" || entry.ExpiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.ExpiresAt
		}
	}
	if !evicted && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Invalidate removes an entry from the cache
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// cleanupLoop periodically removes expired entries
func (c *MemoryCache) cleanupLoop() {
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
func (c *MemoryCache) cleanup() {
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
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache (for testing)
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
