package transport

import (
	"sync"
	"time"
)

// responseCache memoizes successful responses by request signature for a
// bounded time. Hits bypass the throttle and the retry machinery entirely.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	resp     *Response
	storedAt time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *responseCache) get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	cached := *entry.resp
	cached.FromCache = true
	return &cached, true
}

func (c *responseCache) put(key string, resp *Response) {
	if resp.StatusCode != 200 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{resp: resp, storedAt: c.now()}
}
