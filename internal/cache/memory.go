package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/switchboard/model"
)

type memEntry struct {
	resp     model.Response
	storedAt time.Time
}

// MemoryCache is an in-process Cache guarded by a mutex.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	opts    Options
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(opts Options) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// Get returns the entry for key if it is younger than the TTL. Entries past
// the maximum age are dropped on read.
func (c *MemoryCache) Get(_ context.Context, key string) (model.Response, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return model.Response{}, false, nil
	}

	age := c.now().Sub(e.storedAt)
	if age >= c.opts.TTL {
		if age > c.opts.MaxAge {
			c.mu.Lock()
			if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		return model.Response{}, false, nil
	}
	return hit(e.resp), true, nil
}

// Put stores a successful response.
func (c *MemoryCache) Put(_ context.Context, key string, resp model.Response) error {
	if !resp.Success {
		return nil
	}
	stored := resp.Clone()
	stored.Cached = false

	c.mu.Lock()
	c.entries[key] = memEntry{resp: stored, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Sweep removes entries older than the maximum age.
func (c *MemoryCache) Sweep(_ context.Context) (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.opts.MaxAge {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of retained entries, including ones past the TTL.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
