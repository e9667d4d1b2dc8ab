package txn

import (
	"path/filepath"
	"testing"

	"github.com/nainya/docbase/pkg/cache"
	"github.com/nainya/docbase/pkg/pager"
	"github.com/nainya/docbase/pkg/wal"
)

func newHarness(t *testing.T) (*pager.Pager, *cache.Cache, *wal.WAL, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	p, err := pager.Open(dbPath)
	if err != nil {
		t.Fatalf("pager open: %v", err)
	}
	c := cache.New(64)
	w, err := wal.Open(dbPath, wal.SyncFull)
	if err != nil {
		t.Fatalf("wal open: %v", err)
	}
	return p, c, w, func() {
		w.Close()
		p.Close()
	}
}

func TestCommittedWriteVisibleToLaterSnapshot(t *testing.T) {
	p, c, w, cleanup := newHarness(t)
	defer cleanup()
	mgr := NewManager(p, c, w, 100, nil)

	tx1 := mgr.Begin()
	root := tx1.RootFor("docs", func() uint64 { return 0 })
	tree := tx1.Tree(root)
	tree.Insert([]byte("key1"), []byte("val1"))
	tx1.SetRoot("docs", tree.GetRoot())
	committedRoot := tree.GetRoot()

	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if tx1.State() != StateCommitted {
		t.Fatalf("expected StateCommitted, got %v", tx1.State())
	}

	tx2 := mgr.Begin()
	root2 := tx2.RootFor("docs", func() uint64 { return committedRoot })
	tree2 := tx2.Tree(root2)
	val, ok := tree2.Get([]byte("key1"))
	if !ok || string(val) != "val1" {
		t.Fatalf("expected committed write visible, got ok=%v val=%q", ok, val)
	}
	tx2.Rollback()
}

func TestUncommittedWriteNotVisibleToConcurrentSnapshot(t *testing.T) {
	p, c, w, cleanup := newHarness(t)
	defer cleanup()
	mgr := NewManager(p, c, w, 100, nil)

	tx1 := mgr.Begin()
	tx2 := mgr.Begin() // same snapshot as tx1, concurrently open

	root := tx1.RootFor("docs", func() uint64 { return 0 })
	tree := tx1.Tree(root)
	tree.Insert([]byte("key1"), []byte("val1"))
	tx1.SetRoot("docs", tree.GetRoot())
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	root2 := tx2.RootFor("docs", func() uint64 { return 0 }) // tx2's own stale view, never reloaded
	tree2 := tx2.Tree(root2)
	if _, ok := tree2.Get([]byte("key1")); ok {
		t.Fatal("tx2 should not see tx1's uncommitted-at-its-snapshot write")
	}
	tx2.Rollback()
}

func TestRebaseReplaysOpLogOnStaleSnapshot(t *testing.T) {
	p, c, w, cleanup := newHarness(t)
	defer cleanup()
	mgr := NewManager(p, c, w, 100, nil)

	// currentRoot simulates the metadata root's pointer to this collection's
	// primary tree: it's updated by the caller only after a transaction's
	// Commit returns successfully, the same way pkg/metaroot will do it.
	var currentRoot uint64
	loadCurrentRoot := func() uint64 { return currentRoot }

	seed := mgr.Begin()
	seedTree := seed.Tree(seed.RootFor("docs", loadCurrentRoot))
	seedTree.Insert([]byte("a"), []byte("1"))
	seed.SetRoot("docs", seedTree.GetRoot())
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	currentRoot = seedTree.GetRoot()

	tx1 := mgr.Begin()
	tx2 := mgr.Begin() // same snapshot as tx1

	// tx1 writes and commits first, advancing mgr.latest past tx2's snapshot.
	tree1 := tx1.Tree(tx1.RootFor("docs", loadCurrentRoot))
	tree1.Insert([]byte("b"), []byte("2"))
	tx1.SetRoot("docs", tree1.GetRoot())
	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit: %v", err)
	}
	currentRoot = tree1.GetRoot()

	// tx2 records its op as a replay closure instead of writing directly,
	// so Commit's rebase path can redo it against the post-tx1 state --
	// loadCurrentRoot reads currentRoot fresh at replay time, after tx1's
	// update above, not the stale value tx2's own snapshot started from.
	tx2.RecordOp(func(tx *Transaction) error {
		root := tx.RootFor("docs", loadCurrentRoot)
		tree := tx.Tree(root)
		tree.Insert([]byte("c"), []byte("3"))
		tx.SetRoot("docs", tree.GetRoot())
		return nil
	})

	if err := tx2.Commit(); err != nil {
		t.Fatalf("expected rebase to succeed, got error: %v", err)
	}
	if tx2.State() != StateCommitted {
		t.Fatalf("expected StateCommitted after rebase, got %v", tx2.State())
	}
	currentRoot = tx2.roots["docs"]

	// Both tx1's and tx2's writes must be visible now.
	tx3 := mgr.Begin()
	finalRoot := tx3.RootFor("docs", loadCurrentRoot)
	tree3 := tx3.Tree(finalRoot)
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		val, ok := tree3.Get([]byte(kv[0]))
		if !ok || string(val) != kv[1] {
			t.Fatalf("expected %s=%s after rebase, got ok=%v val=%q", kv[0], kv[1], ok, val)
		}
	}
	tx3.Rollback()
}

func TestConflictTooLargeWhenOpLogExceedsLimit(t *testing.T) {
	p, c, w, cleanup := newHarness(t)
	defer cleanup()
	mgr := NewManager(p, c, w, 1, nil) // limit of 1 op

	other := mgr.Begin()
	otherRoot := other.Tree(0)
	otherRoot.Insert([]byte("x"), []byte("y"))
	other.SetRoot("docs", otherRoot.GetRoot())
	if err := other.Commit(); err != nil {
		t.Fatalf("other commit: %v", err)
	}

	tx := mgr.Begin()
	tx.RecordOp(func(tx *Transaction) error { return nil })
	tx.RecordOp(func(tx *Transaction) error { return nil }) // 2 ops > limit of 1

	if err := tx.Commit(); err == nil {
		t.Fatal("expected ConflictTooLarge error")
	}
	if tx.State() != StateRebaseFailed {
		t.Fatalf("expected StateRebaseFailed, got %v", tx.State())
	}
}

func TestRollbackUnreservesAllocatedPages(t *testing.T) {
	p, c, w, cleanup := newHarness(t)
	defer cleanup()
	mgr := NewManager(p, c, w, 100, nil)

	before := p.FreeListLen()
	tx := mgr.Begin()
	tree := tx.Tree(0)
	tree.Insert([]byte("a"), []byte("1"))
	tx.Rollback()

	if tx.State() != StateAborted {
		t.Fatalf("expected StateAborted, got %v", tx.State())
	}
	// Rollback returns every allocated page to the free list immediately.
	if p.FreeListLen() <= before {
		t.Fatal("expected rollback to unreserve allocated pages")
	}
}

func TestChangeEventsDeliveredOnlyAfterCommit(t *testing.T) {
	p, c, w, cleanup := newHarness(t)
	defer cleanup()

	var delivered [][]ChangeEvent
	mgr := NewManager(p, c, w, 100, func(evs []ChangeEvent) {
		delivered = append(delivered, evs)
	})

	tx := mgr.Begin()
	tree := tx.Tree(0)
	tree.Insert([]byte("a"), []byte("1"))
	tx.SetRoot("docs", tree.GetRoot())
	tx.Publish(ChangeEvent{Collection: "docs", Kind: "insert", DocID: "a"})

	if len(delivered) != 0 {
		t.Fatal("change event delivered before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(delivered) != 1 || len(delivered[0]) != 1 {
		t.Fatalf("expected exactly one delivered batch of one event, got %+v", delivered)
	}
}
