package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vectable/internal/resource"
)

// LRU is a size-bounded least-recently-used BlockCache.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates an LRU cache holding at most capacity bytes. If rc is not
// nil, cached bytes are also charged against its memory limit.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRU) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. Blocks larger than the capacity are ignored.
func (c *LRU) Set(_ context.Context, key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	n := int64(len(b))
	if n > c.capacity {
		return
	}

	for c.size+n > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}

	// Global memory pressure wins over local capacity.
	if !c.rc.TryAcquireMemory(n) {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key: key, value: b})
	c.size += n
}

// Invalidate removes entries matching the predicate.
func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for key, el := range c.items {
		if predicate(key) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.removeElement(el)
	}
}

// Stats returns cache statistics.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Bytes:   c.size,
		Entries: len(c.items),
	}
}

func (c *LRU) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	kv := el.Value.(*entry)
	delete(c.items, kv.key)
	n := int64(len(kv.value))
	c.size -= n
	c.rc.ReleaseMemory(n)
}
