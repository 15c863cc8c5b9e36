package credentials

import (
	"context"
	"sync"
	"time"
)

// CachingResolver memoizes successful resolutions for a TTL. Failures are
// never cached, so a newly configured key is picked up on the next call.
type CachingResolver struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	botID, ownerID string
}

type cacheEntry struct {
	cred    *Credential
	expires time.Time
}

// NewCachingResolver wraps next with a TTL cache.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Resolve implements Resolver.
func (c *CachingResolver) Resolve(ctx context.Context, botID, ownerID string) (*Credential, error) {
	key := cacheKey{botID, ownerID}

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.cred, nil
	}

	cred, err := c.next.Resolve(ctx, botID, ownerID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have inserted a fresh entry meanwhile; keep it.
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		return e.cred, nil
	}
	c.entries[key] = cacheEntry{cred: cred, expires: c.now().Add(c.ttl)}
	return cred, nil
}

// Invalidate drops the cached credential for a bot, for every owner.
func (c *CachingResolver) Invalidate(botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.botID == botID {
			delete(c.entries, k)
		}
	}
}
