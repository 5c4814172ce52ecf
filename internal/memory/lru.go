// Package memory provides the in-process tier of the image cache: a
// count-limited map that evicts the least recently used entry once full.
package memory

import (
	"container/list"
	"sync"
)

// DefaultLimit is the entry limit used when none is configured.
const DefaultLimit = 100

// EvictFunc is invoked for every entry pushed out by a Put on a full cache.
// It runs while the cache lock is held and must not call back into the cache.
type EvictFunc[V any] func(key string, value V)

// Cache is a concurrency-safe LRU keyed by string.
// All operations are O(1).
type Cache[V any] struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	onEvict EvictFunc[V]
}

type lruEntry[V any] struct {
	key   string
	value V
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithEvictFunc registers a callback fired on capacity evictions.
func WithEvictFunc[V any](fn EvictFunc[V]) Option[V] {
	return func(c *Cache[V]) {
		c.onEvict = fn
	}
}

// New creates a cache holding at most limit entries. A non-positive limit
// falls back to DefaultLimit.
func New[V any](limit int, opts ...Option[V]) *Cache[V] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	c := &Cache[V]{
		limit:   limit,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key and marks it most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry[V]).value, true
}

// Contains reports whether key is present without touching its recency.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

// Put stores value under key. Replacing an existing key refreshes its
// recency; inserting into a full cache evicts the least recently used entry
// first. It reports whether an eviction happened.
func (c *Cache[V]) Put(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(elem)
		return false
	}

	evicted := false
	for c.order.Len() >= c.limit {
		c.evictOldest()
		evicted = true
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	return evicted
}

// Remove deletes key and reports whether it was present.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.entries, key)
	return true
}

// Len returns the number of entries currently held.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Limit returns the configured entry limit.
func (c *Cache[V]) Limit() int {
	return c.limit
}

// Keys returns the cached keys ordered from most to least recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Purge drops every entry without firing the eviction callback.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// evictOldest removes the tail of the recency list. Caller holds c.mu.
func (c *Cache[V]) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*lruEntry[V])
	c.order.Remove(elem)
	delete(c.entries, entry.key)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}
