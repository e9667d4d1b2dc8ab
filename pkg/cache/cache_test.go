package cache

import "testing"

func page(b byte) []byte {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestPutDirtyDoesNotRaceEviction(t *testing.T) {
	// Capacity 1: filling the cache then inserting a dirty page must still
	// succeed and be immediately readable, per the "cache capacity 1"
	// boundary behavior.
	c := New(1)
	c.PutClean(1, page('a'), 1)
	c.PutDirty(2, page('b'), 2)

	if !c.IsDirty(2) {
		t.Fatal("expected page 2 to be dirty")
	}
	got, _, ok := c.Get(2)
	if !ok {
		t.Fatal("page 2 should be readable immediately after PutDirty")
	}
	if got[0] != 'b' {
		t.Fatalf("unexpected bytes: %v", got)
	}
}

func TestDirtyEntryNeverEvicted(t *testing.T) {
	c := New(2)
	c.PutDirty(1, page('a'), 1)
	c.PutDirty(2, page('b'), 1)
	// Cache is at its capacity, both dirty; inserting a third must not
	// evict either dirty page.
	c.PutClean(3, page('c'), 1)

	if !c.IsDirty(1) || !c.IsDirty(2) {
		t.Fatal("dirty pages must survive eviction while cache is full of dirty entries")
	}
	if _, _, ok := c.Get(1); !ok {
		t.Fatal("page 1 evicted despite being dirty")
	}
	if _, _, ok := c.Get(2); !ok {
		t.Fatal("page 2 evicted despite being dirty")
	}
	_, _, pressure := c.Stats()
	if pressure == 0 {
		t.Fatal("expected cache_pressure to be incremented")
	}
}

func TestMarkCleanAllowsEviction(t *testing.T) {
	c := New(1)
	c.PutDirty(1, page('a'), 1)
	c.MarkClean(1)
	c.PutClean(2, page('b'), 1)

	if _, _, ok := c.Get(1); ok {
		t.Fatal("page 1 should have been evicted after mark_clean")
	}
	if _, _, ok := c.Get(2); !ok {
		t.Fatal("page 2 should be present")
	}
}

func TestLRUEvictsLeastRecentlyUsedClean(t *testing.T) {
	c := New(2)
	c.PutClean(1, page('a'), 1)
	c.PutClean(2, page('b'), 1)
	c.Get(1) // promote 1 to MRU, leaving 2 as LRU
	c.PutClean(3, page('c'), 1)

	if _, _, ok := c.Get(2); ok {
		t.Fatal("expected page 2 (LRU) to be evicted")
	}
	if _, _, ok := c.Get(1); !ok {
		t.Fatal("expected page 1 to survive (recently used)")
	}
}
