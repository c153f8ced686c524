package lang

import "sync/atomic"

// DefaultExprCacheSize is the default capacity of an [ExprCache].
const DefaultExprCacheSize = 1024

// ExprCache is a concurrency-safe LRU cache of compiled expressions keyed by
// their raw text. Compilation happens outside the lock, so an entry is only
// inserted (and can only be evicted) once it is complete. Failed
// compilations are never cached.
type ExprCache struct {
	capacity int
	entries  *lru[string, *Expr]

	hits, misses atomic.Uint64
}

// NewExprCache creates a cache holding at most capacity expressions.
// A capacity <= 0 selects [DefaultExprCacheSize].
func NewExprCache(capacity int) *ExprCache {
	if capacity <= 0 {
		capacity = DefaultExprCacheSize
	}

	return &ExprCache{capacity: capacity, entries: newLRU[string, *Expr](capacity)}
}

// Get returns the compiled form of source, compiling and inserting it on a
// miss.
func (c *ExprCache) Get(source string) (*Expr, error) {
	if e, ok := c.entries.get(source); ok {
		c.hits.Add(1)

		return e, nil
	}

	c.misses.Add(1)

	e, err := Compile(source)
	if err != nil {
		return nil, err
	}

	// A concurrent compile of the same text may have won; keep the first.
	e, _ = c.entries.add(source, e)

	return e, nil
}

// Len returns the number of cached expressions.
func (c *ExprCache) Len() int { return c.entries.len() }

// Capacity returns the maximum number of cached expressions.
func (c *ExprCache) Capacity() int { return c.capacity }

// Contains reports whether source is cached, without affecting recency.
func (c *ExprCache) Contains(source string) bool { return c.entries.contains(source) }

// Stats returns the hit and miss counters.
func (c *ExprCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear removes every entry.
func (c *ExprCache) Clear() { c.entries.clear() }
