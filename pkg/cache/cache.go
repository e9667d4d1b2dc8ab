// ABOUTME: Bounded LRU page cache with clean/dirty eviction discipline
// ABOUTME: PutDirty is atomic with respect to eviction -- see PutDirty doc

package cache

import (
	"container/list"
	"sync"
)

type entry struct {
	page  uint64
	bytes []byte
	dirty bool
	// txID is the transaction that authored this image; readers whose
	// snapshot predates txID must bypass the cache and consult the WAL's
	// frame index instead (see the transaction manager's read path).
	txID uint64
}

// Cache is a bounded page_num -> (bytes, dirty) map with LRU recency among
// clean entries. It never calls into the pager or WAL while holding its
// lock, and a dirty page is never evicted.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = MRU, back = LRU
	elems    map[uint64]*list.Element

	hits, misses, pressure uint64
}

func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[uint64]*list.Element),
	}
}

// Get returns a read-only view of page n, promoting it to MRU.
func (c *Cache) Get(n uint64) ([]byte, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elems[n]
	if !ok {
		c.misses++
		return nil, 0, false
	}
	c.hits++
	c.order.MoveToFront(el)
	e := el.Value.(*entry)
	return e.bytes, e.txID, true
}

// PutClean inserts or overwrites page n as clean, evicting the LRU clean
// entry if the cache is at capacity.
func (c *Cache) PutClean(n uint64, data []byte, txID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(n, data, false, txID)
}

// PutDirty inserts or overwrites page n and marks it dirty. The insertion
// and the dirty flag are set atomically under the same lock acquisition, so
// the newly-inserted page can never be chosen as an eviction victim before
// its dirty bit is visible -- staging "put" then "mark_dirty" as two
// separate critical sections is exactly the race this avoids.
func (c *Cache) PutDirty(n uint64, data []byte, txID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(n, data, true, txID)
}

func (c *Cache) insert(n uint64, data []byte, dirty bool, txID uint64) {
	if el, ok := c.elems[n]; ok {
		e := el.Value.(*entry)
		e.bytes, e.dirty, e.txID = data, dirty, txID
		c.order.MoveToFront(el)
		return
	}

	c.evictClean(n)

	e := &entry{page: n, bytes: data, dirty: dirty, txID: txID}
	el := c.order.PushFront(e)
	c.elems[n] = el
}

// evictClean drops the single least-recently-used clean entry (other than
// `exclude`, the page about to be inserted) when the cache is at or over
// capacity. It drops at most one entry per call, so a cache already past
// its bound shrinks by at most one entry per insert. If every
// entry is dirty the cache simply grows past its soft bound rather than
// lose a write, and cache_pressure is incremented.
func (c *Cache) evictClean(exclude uint64) {
	if len(c.elems) < c.capacity {
		return
	}
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.page == exclude {
			continue
		}
		if e.dirty {
			continue
		}
		c.order.Remove(el)
		delete(c.elems, e.page)
		return
	}
	c.pressure++
}

// MarkClean allows a previously-dirty page to be evicted again, once its
// bytes have been made durable by the WAL.
func (c *Cache) MarkClean(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elems[n]; ok {
		el.Value.(*entry).dirty = false
	}
}

func (c *Cache) IsDirty(n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elems[n]
	return ok && el.Value.(*entry).dirty
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit/miss/pressure counters for metrics().
func (c *Cache) Stats() (hits, misses, pressure uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.pressure
}

// DirtyCount returns the number of entries currently pinned dirty.
func (c *Cache) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, el := range c.elems {
		if el.Value.(*entry).dirty {
			n++
		}
	}
	return n
}
