// ABOUTME: Thread-safe TTL cache over send identifiers.
// ABOUTME: First-line duplicate guard in front of the store dedup query.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache tracks recently dispatched message identifiers so that a retried
// send can be recognized without a store round-trip. A send is keyed by
// both its platform message ID and its client correlation ID, matching
// the store's OR-query dedup semantics. Size-limited with O(1) eviction
// of the oldest entry.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// SeenSend reports whether either identifier of a send has been marked
// and is not expired.
func (c *Cache) SeenSend(messageID, clientID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seenLocked(messageID) || c.seenLocked(clientID)
}

// MarkSend records both identifiers of a completed send.
func (c *Cache) MarkSend(messageID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(messageID)
	if clientID != "" && clientID != messageID {
		c.markLocked(clientID)
	}
}

// seenLocked reports whether a single key is present and fresh.
// Must be called with mu held (read or write).
func (c *Cache) seenLocked(key string) bool {
	if key == "" {
		return false
	}
	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// markLocked records a key, evicting the oldest entry at capacity.
// Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		front := c.order.Front()
		if front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// cleanupLoop periodically removes expired entries until Close.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops all entries older than the TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
