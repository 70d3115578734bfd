// Package cache provides a bounded in-memory cache with per-entry expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL applies when New is given a non-positive ttl.
	DefaultTTL = 10 * time.Minute
	// DefaultSize applies when New is given a non-positive size.
	DefaultSize = 1000
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	elem      *list.Element
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// TTL is a size-bounded cache whose entries expire ttl after they are set.
// When full, the least recently used entry is evicted. Expired entries are
// dropped lazily on access and by Purge. Safe for concurrent use.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*entry[K, V]
	order   *list.List // front = most recently used
	ttl     time.Duration
	size    int
	now     func() time.Time
	hits    int64
	misses  int64
	evicted int64
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache holding at most size entries for ttl each.
func New[K comparable, V any](size int, ttl time.Duration, opts ...Option) *TTL[K, V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[K, V]{
		items: make(map[K]*entry[K, V]),
		order: list.New(),
		ttl:   ttl,
		size:  size,
		now:   o.now,
	}
}

// Get returns the live value for key.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key)
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set stores value under key, replacing any previous value and restarting
// its expiry.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}
	c.insert(key, value)
}

// SetIfAbsent stores value unless a live entry exists. It returns the value
// now held for key and whether value was the one stored.
func (c *TTL[K, V]) SetIfAbsent(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.live(key); ok {
		c.hits++
		c.order.MoveToFront(e.elem)
		return e.value, false
	}
	c.insert(key, value)
	return value, true
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every expired entry and returns how many were removed.
func (c *TTL[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, e := range c.items {
		if !now.Before(e.expiresAt) {
			c.remove(e)
			n++
		}
	}
	return n
}

// Stats returns the cache counters.
func (c *TTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evicted, Size: len(c.items)}
}

// live returns the entry for key, dropping it if expired. Caller holds mu.
func (c *TTL[K, V]) live(key K) (*entry[K, V], bool) {
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.remove(e)
		return nil, false
	}
	return e, true
}

// insert adds a new entry, evicting the LRU tail when full. Caller holds mu.
func (c *TTL[K, V]) insert(key K, value V) {
	for len(c.items) >= c.size {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.remove(tail.Value.(*entry[K, V]))
		c.evicted++
	}
	e := &entry[K, V]{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
}

func (c *TTL[K, V]) remove(e *entry[K, V]) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}
