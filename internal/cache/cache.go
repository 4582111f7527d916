// Package cache provides an in-memory result cache with a fixed TTL and a
// bounded number of entries. Entries are evicted oldest-inserted first.
package cache

import (
	"container/list"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 100
)

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Size       int     `json:"size"`
	MaxSize    int     `json:"max_size"`
	TTLMinutes float64 `json:"ttl_minutes"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"` // percent
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Cache is safe for concurrent use. Concurrent sets of the same key are
// last-writer-wins.
type Cache[V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time

	order *list.List // oldest first
	items map[string]*list.Element

	hits   uint64
	misses uint64
}

// New creates a cache. Zero ttl or capacity selects the defaults.
func New[V any](ttl time.Duration, capacity int) (*Cache[V], error) {
	if ttl < 0 {
		return nil, errors.New("cache TTL must not be negative")
	}
	if capacity < 0 {
		return nil, errors.New("cache capacity must not be negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	return &Cache[V]{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}, nil
}

// Key builds a cache key from a query name and its parameters.
func Key(name string, params any) string {
	b, err := json.Marshal(params)
	if err != nil {
		return name + ":" + err.Error()
	}
	return name + ":" + string(b)
}

// Get returns the live value stored under key. Expired entries are removed
// and count as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	e := el.Value.(*entry[V])
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.remove(el)
		c.misses++
		return zero, false
	}

	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}

	for c.order.Len() >= c.capacity {
		c.remove(c.order.Front())
	}

	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, insertedAt: c.now()})
}

// Do returns the cached value for key or calls fn and caches its result
// when fn succeeds. The boolean reports whether the value came from cache.
func (c *Cache[V]) Do(key string, fn func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err := fn()
	if err != nil {
		return v, false, err
	}

	c.Set(key, v)
	return v, false, nil
}

// Invalidate removes every entry whose key was built for name.
func (c *Cache[V]) Invalidate(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := name + ":"
	var removed int
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.remove(el)
			removed++
		}
	}
	return removed
}

// Clear removes all entries and resets hit statistics.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.items)
	c.hits, c.misses = 0, 0
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:       c.order.Len(),
		MaxSize:    c.capacity,
		TTLMinutes: c.ttl.Minutes(),
		Hits:       c.hits,
		Misses:     c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}

func (c *Cache[V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}
