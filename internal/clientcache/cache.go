// Package clientcache holds provider clients keyed per tenant, bot and
// credential. Entries are only ever inserted; a rotated credential produces
// a new key rather than mutating an existing entry.
package clientcache

import "sync"

// Key identifies one cached client.
type Key struct {
	TenantID    string
	BotID       string
	Fingerprint string
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[Key]V
}

// New returns an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[Key]V)}
}

// GetOrCreate returns the cached value for key, calling create under the
// lock when absent. A create error leaves the cache unchanged.
func (c *Cache[V]) GetOrCreate(key Key, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.entries[key] = v
	return v, nil
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
