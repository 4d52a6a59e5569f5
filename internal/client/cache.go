package client

import (
	"container/list"
	"sync"
	"time"
)

// responseCache is a TTL + max-entry bounded in-memory result cache. Expired
// entries are evicted lazily on read and by Sweep; when full, the least
// recently stored entry goes first.
type responseCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // oldest at front
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	key       string
	result    Result
	expiresAt time.Time
}

func newResponseCache(ttl time.Duration, maxEntries int) *responseCache {
	return &responseCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *responseCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *responseCache) set(key string, result Result) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	entry := &cacheEntry{key: key, result: result, expiresAt: c.now().Add(c.ttl)}
	c.entries[key] = c.order.PushBack(entry)
}

// sweep removes every expired entry and reports how many were dropped.
func (c *responseCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.order.Remove(elem)
			delete(c.entries, entry.key)
			dropped++
		}
		elem = next
	}
	return dropped
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
