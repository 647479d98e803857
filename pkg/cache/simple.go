package cache

import (
	"sync"
)

// simpleCache is a thread-safe cache with no eviction policy. Items are
// stored until explicitly deleted or cleared; the registry owns its
// lifecycle and evicts entries as sessions disappear.
type simpleCache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	stats *Statistics
}

// NewSimple creates a new simple cache instance
func NewSimple[V any]() Cache[V] {
	return &simpleCache[V]{
		items: make(map[string]V),
		stats: NewStatistics(),
	}
}

// Get retrieves a value by key
func (c *simpleCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	value, exists := c.items[key]
	c.mu.RUnlock()

	if exists {
		c.stats.Hit()
	} else {
		c.stats.Miss()
	}

	return value, exists
}

// Set stores a value with the given key
func (c *simpleCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = value
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))

	return !exists, nil
}

// Delete removes an entry by key
func (c *simpleCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if exists {
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
	}

	return exists, nil
}

// Clear removes all entries from the cache
func (c *simpleCache[V]) Clear() error {
	c.mu.Lock()
	c.items = make(map[string]V)
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	return nil
}

// Size returns the current number of entries
func (c *simpleCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns a slice of all keys currently in the cache
func (c *simpleCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns cache statistics
func (c *simpleCache[V]) Stats() *Statistics {
	return c.stats
}
