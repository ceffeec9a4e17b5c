package nws

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
)

// CachedAPI wraps a GridAPI with an in-memory LRU cache of point lookups.
// Gridpoint documents are forecasts and always pass through.
type CachedAPI struct {
	inner   domain.GridAPI
	points  *lruCache[domain.PointInfo]
	metrics *observability.Metrics
}

// NewCachedAPI creates a cache decorator around a GridAPI.
func NewCachedAPI(inner domain.GridAPI, maxEntries int, metrics *observability.Metrics) *CachedAPI {
	return &CachedAPI{
		inner:   inner,
		points:  newLRUCache[domain.PointInfo](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedAPI) LookupPoint(ctx context.Context, lat, lon float64) (domain.PointInfo, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if info, ok := c.points.get(key); ok {
		c.metrics.PointCache.WithLabelValues("hit").Inc()
		return info, nil
	}
	c.metrics.PointCache.WithLabelValues("miss").Inc()

	info, err := c.inner.LookupPoint(ctx, lat, lon)
	if err != nil {
		return info, err
	}
	// Only cache complete answers so a point the upstream could not place is
	// asked again on the next shift.
	if _, err := info.Cell(); err == nil {
		c.points.put(key, info)
	}
	return info, nil
}

func (c *CachedAPI) FetchGridpoint(ctx context.Context, cell domain.GridCell) (domain.Gridpoint, error) {
	return c.inner.FetchGridpoint(ctx, cell)
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
