package lang

import (
	"container/list"
	"sync"
)

type lruEntry[K comparable, V any] struct {
	key K
	val V
}

// lru is a concurrency-safe least-recently-used map. Callers count hits and
// misses themselves.
type lru[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	ll       *list.List
	items    map[K]*list.Element
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	return &lru[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

// get returns the value for key and marks it most recently used.
func (c *lru[K, V]) get(key K) (V, bool) {
	c.mu.RLock()
	el, ok := c.items[key]
	front := ok && c.ll.Front() == el
	c.mu.RUnlock()

	if ok && front {
		return el.Value.(*lruEntry[K, V]).val, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: the entry may have been evicted since the read lock.
	el, ok = c.items[key]
	if !ok {
		var zero V

		return zero, false
	}

	c.ll.MoveToFront(el)

	return el.Value.(*lruEntry[K, V]).val, true
}

// add inserts val unless key is already present, evicting the least
// recently used entry when full. It returns the resident value and whether
// it was already present.
func (c *lru[K, V]) add(key K, val V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)

		return el.Value.(*lruEntry[K, V]).val, true
	}

	if c.ll.Len() >= c.capacity {
		if back := c.ll.Back(); back != nil {
			c.ll.Remove(back)
			delete(c.items, back.Value.(*lruEntry[K, V]).key)
		}
	}

	c.items[key] = c.ll.PushFront(&lruEntry[K, V]{key: key, val: val})

	return val, false
}

// removeIf drops key if match accepts its current value.
func (c *lru[K, V]) removeIf(key K, match func(V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok && match(el.Value.(*lruEntry[K, V]).val) {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

func (c *lru[K, V]) contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[key]

	return ok
}

func (c *lru[K, V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

func (c *lru[K, V]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	clear(c.items)
}
