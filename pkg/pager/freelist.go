// ABOUTME: Free list of reusable page numbers, gated by the oldest live snapshot
// ABOUTME: Generalizes the single-writer maxSeq watermark into MVCC-safe reuse

package pager

// entry records a freed page together with the commit that freed it. The
// page cannot be handed back out by allocate() until every active reader
// snapshot is at or after freedAt -- a snapshot taken at freedAt already
// sees the commit that let go of the page, while an older one could still
// dereference it through an old (but still reachable) root.
type entry struct {
	page    uint64
	freedAt uint64
}

// freeList is a bounded FIFO of free page numbers. Capacity is fixed by how
// many entries fit in the header page alongside the fixed header fields
// (see header.go) -- the on-disk format has no overflow page, by design.
type freeList struct {
	entries []entry
	cap     int
}

func newFreeList(capacity int) *freeList {
	return &freeList{entries: make([]entry, 0, capacity), cap: capacity}
}

// push records a newly-freed page. If the list is already at capacity the
// page is dropped from tracking rather than overflowing the header -- a
// documented limitation of the single-page free list (see DESIGN.md).
func (fl *freeList) push(page, freedAt uint64) {
	if len(fl.entries) >= fl.cap {
		return
	}
	fl.entries = append(fl.entries, entry{page: page, freedAt: freedAt})
}

// pop returns a reusable page whose freedAt is visible to every active
// reader, or (0, false) if the head entry isn't safe to reuse yet (or the
// list is empty).
func (fl *freeList) pop(oldestActiveSnapshot uint64) (uint64, bool) {
	if len(fl.entries) == 0 {
		return 0, false
	}
	head := fl.entries[0]
	if head.freedAt > oldestActiveSnapshot {
		return 0, false
	}
	fl.entries = fl.entries[1:]
	return head.page, true
}

// unreserve returns a page that was optimistically reserved by allocate()
// but never committed (transaction rolled back or was rebased) straight to
// the front of the list -- it was never visible to any reader, so it's
// immediately reusable.
func (fl *freeList) unreserve(page uint64) {
	fl.entries = append([]entry{{page: page, freedAt: 0}}, fl.entries...)
}

func (fl *freeList) len() int { return len(fl.entries) }

// serialize emits the flat page-number list the on-disk header stores.
func (fl *freeList) serialize() []uint64 {
	out := make([]uint64, len(fl.entries))
	for i, e := range fl.entries {
		out[i] = e.page
	}
	return out
}

// load replaces the free list from a flat page-number array read from the
// header. Pages recovered from a prior session have no live readers to
// respect, so they're all immediately reusable (freedAt 0).
func (fl *freeList) load(pages []uint64) {
	fl.entries = fl.entries[:0]
	for _, p := range pages {
		fl.entries = append(fl.entries, entry{page: p, freedAt: 0})
	}
}
