package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

// LRUCache is a bounded in-memory cache for external judge responses.
// Entries expire after their TTL; a TTL of zero or less never expires.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheItem
	head     *cacheItem
	tail     *cacheItem
	now      func() time.Time
}

type cacheItem struct {
	key     string
	value   []byte
	expires time.Time // zero: no expiry
	prev    *cacheItem
	next    *cacheItem
}

// NewLRUCache creates a cache holding at most capacity entries. A capacity
// below one is treated as one.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*cacheItem),
		now:      time.Now,
	}
}

// Get returns a copy of the cached value and marks it most recently used.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.expired(item) {
		c.unlink(item)
		delete(c.items, key)
		return nil, false
	}
	c.moveToFront(item)
	return append([]byte(nil), item.value...), true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttlSeconds > 0 {
		expires = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	value = append([]byte(nil), value...)

	if item, ok := c.items[key]; ok {
		item.value = value
		item.expires = expires
		c.moveToFront(item)
		return nil
	}

	item := &cacheItem{key: key, value: value, expires: expires}
	c.pushFront(item)
	c.items[key] = item
	if len(c.items) > c.capacity {
		c.evict()
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.unlink(item)
		delete(c.items, key)
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet reaped.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) expired(item *cacheItem) bool {
	return !item.expires.IsZero() && c.now().After(item.expires)
}

func (c *LRUCache) moveToFront(item *cacheItem) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.pushFront(item)
}

func (c *LRUCache) pushFront(item *cacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *LRUCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (c *LRUCache) evict() {
	if c.tail == nil {
		return
	}
	item := c.tail
	c.unlink(item)
	delete(c.items, item.key)
}

var _ ports.Cache = (*LRUCache)(nil)
