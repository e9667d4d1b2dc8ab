// ABOUTME: A single MVCC transaction: snapshot read path, write buffer,
// ABOUTME: logical op log for rebase, and the seven-step commit protocol

package txn

import (
	"fmt"

	"github.com/nainya/docbase/pkg/btree"
	"github.com/nainya/docbase/pkg/dberr"
)

type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
	StateRebaseFailed
)

// MetaRootName is the well-known root name the metadata root is tracked
// under. A transaction that calls SetRoot(MetaRootName, ...) has its
// commit durably reflected in the pager's header -- metadata_page and
// num_pages both advance atomically with the commit, inside the same
// commit-lock critical section, so no other transaction can ever rebase
// against a metadata pointer older than the latest commit that set it.
const MetaRootName = "meta"

// Transaction buffers every page it writes in memory; nothing reaches the
// WAL until Commit. Reads see its own uncommitted writes, then anything
// committed at or before its snapshot id, via Get.
type Transaction struct {
	mgr        *Manager
	snapshotID uint64
	state      State

	writes   map[uint64][]byte // page_num -> new image, staged this tx
	reserved map[uint64]bool   // pages allocated this tx, not yet committed
	freed    []uint64          // pages superseded this tx, freed at commit

	roots map[string]uint64 // named root (collection / metadata root) -> shadow page this tx

	opLog  []func(tx *Transaction) error // replayed against fresh state on rebase
	events []ChangeEvent
}

func (tx *Transaction) SnapshotID() uint64 { return tx.snapshotID }
func (tx *Transaction) State() State       { return tx.state }

// Writes exposes this transaction's staged page images after Commit, for
// callers that report per-commit metrics (pages written, bytes written).
// Safe to call after Commit returns since nothing clears the buffer.
func (tx *Transaction) Writes() map[uint64][]byte { return tx.writes }

// FreedCount reports how many pre-existing pages this transaction
// superseded and queued for the free list.
func (tx *Transaction) FreedCount() int { return len(tx.freed) }

// Get is the B-tree's `get` callback: write buffer first, then the cache
// (only if its resident version is visible to this snapshot), then the
// WAL's versioned frame index, and finally the pager's durable copy.
func (tx *Transaction) Get(ptr uint64) []byte {
	if data, ok := tx.writes[ptr]; ok {
		return data
	}
	if data, writerTxID, ok := tx.mgr.cache.Get(ptr); ok && writerTxID <= tx.snapshotID {
		return data
	}
	if data, ok := tx.mgr.wal.Lookup(ptr, tx.snapshotID); ok {
		return data
	}
	data, err := tx.mgr.pager.ReadPage(ptr)
	if err != nil {
		panic(fmt.Sprintf("txn: unreadable page %d: %v", ptr, err))
	}
	return data
}

// New is the B-tree's `new` callback: reserve a globally-unique page number
// and stage its image in the write buffer. Nothing else can observe this
// page number until (and unless) this transaction commits.
func (tx *Transaction) New(data []byte) uint64 {
	ptr := tx.mgr.pager.Allocate(tx.mgr.oldestActiveSnapshot())
	tx.writes[ptr] = data
	tx.reserved[ptr] = true
	return ptr
}

// Del is the B-tree's `del` callback. A page this same transaction
// allocated is simply unreserved -- no other snapshot could have seen it.
// A pre-existing page is queued for the free list, gated at commit time by
// the commit id that actually superseded it.
func (tx *Transaction) Del(ptr uint64) {
	if _, ok := tx.writes[ptr]; ok {
		delete(tx.writes, ptr)
		delete(tx.reserved, ptr)
		tx.mgr.pager.Unreserve(ptr)
		return
	}
	tx.freed = append(tx.freed, ptr)
}

// Tree wires a fresh *btree.BTree to this transaction's get/new/del
// callbacks, rooted at root. Collections and secondary indexes each get
// their own Tree pointed at their own root page.
func (tx *Transaction) Tree(root uint64) *btree.BTree {
	t := &btree.BTree{}
	t.SetCallbacks(tx.Get, tx.New, tx.Del)
	t.SetRoot(root)
	return t
}

// RootFor returns this transaction's current view of a named root page
// (a collection's primary root, an index root, or the metadata root),
// loading it via loader on first touch and caching it for the rest of the
// transaction's lifetime.
func (tx *Transaction) RootFor(name string, loader func() uint64) uint64 {
	if r, ok := tx.roots[name]; ok {
		return r
	}
	r := loader()
	tx.roots[name] = r
	return r
}

// SetRoot records this transaction's new view of a named root after a
// write to the tree behind it.
func (tx *Transaction) SetRoot(name string, newRoot uint64) {
	tx.roots[name] = newRoot
}

// FinalRoot returns the named root this transaction ended up with after a
// successful Commit (following any rebase replay), for callers that must
// persist a root pointer outside the page graph itself.
func (tx *Transaction) FinalRoot(name string) (uint64, bool) {
	r, ok := tx.roots[name]
	return r, ok
}

// RecordOp appends a replay closure to the logical op log. If this
// transaction's snapshot turns out to be stale at commit time, every
// recorded op is replayed in order against the fresh state instead of
// commit failing outright -- this is the rebase the spec requires for
// readers not actually in conflict with the page ranges they touched.
func (tx *Transaction) RecordOp(op func(tx *Transaction) error) {
	tx.opLog = append(tx.opLog, op)
}

// Publish queues a change event to be delivered to the change bus only
// after this transaction's commit is durable.
func (tx *Transaction) Publish(ev ChangeEvent) {
	tx.events = append(tx.events, ev)
}

// Commit runs the seven-step protocol: acquire the commit lock, rebase if
// the snapshot is stale, assign a commit id, append WAL frames, update the
// cache, advance the latest-commit watermark, release the lock, and
// finally publish change events -- in that order, so nothing downstream of
// the commit lock can observe a half-applied transaction.
func (tx *Transaction) Commit() error {
	if tx.state != StateActive {
		return dberr.InvalidArgument("transaction is not active")
	}

	tx.mgr.commitMu.Lock()

	if tx.mgr.latest != tx.snapshotID {
		if err := tx.rebase(); err != nil {
			tx.state = StateRebaseFailed
			tx.discardWrites()
			tx.mgr.releaseSnapshot(tx)
			tx.mgr.commitMu.Unlock()
			return err
		}
	}

	commitID := tx.mgr.latest + 1

	if err := tx.mgr.wal.AppendFrames(commitID, tx.writes); err != nil {
		tx.state = StateAborted
		tx.discardWrites()
		tx.mgr.releaseSnapshot(tx)
		tx.mgr.commitMu.Unlock()
		return err
	}

	for ptr, data := range tx.writes {
		tx.mgr.cache.PutDirty(ptr, data, commitID)
		tx.mgr.cache.MarkClean(ptr)
	}
	for _, ptr := range tx.freed {
		tx.mgr.pager.Free(ptr, commitID)
	}
	tx.mgr.pager.SetNextTxID(commitID + 1)

	// If this transaction touched the metadata root, advance the pager's
	// header for it here, still inside the commit lock: num_pages must be
	// extended to cover every page just written (Extend) before
	// metadata_page is pointed at one of them and the header is flushed,
	// or a reopen can observe metadata_page >= num_pages and refuse to
	// recover a transaction that genuinely committed. Doing this before
	// the lock is released is what lets a rebasing transaction's
	// RootFor(MetaRootName, ...) loader always see this commit's root,
	// never a stale one from before it.
	var headerErr error
	if metaPtr, ok := tx.roots[MetaRootName]; ok {
		maxPage := metaPtr
		for ptr := range tx.writes {
			if ptr > maxPage {
				maxPage = ptr
			}
		}
		tx.mgr.pager.Extend(maxPage)
		tx.mgr.pager.SetMetadataPage(metaPtr)
		headerErr = tx.mgr.pager.FlushHeader()
	}

	tx.mgr.regMu.Lock()
	tx.mgr.latest = commitID
	tx.mgr.committed++
	tx.mgr.regMu.Unlock()

	tx.state = StateCommitted
	tx.mgr.releaseSnapshot(tx)
	tx.mgr.commitMu.Unlock()

	if tx.mgr.onCommit != nil && len(tx.events) > 0 {
		tx.mgr.onCommit(tx.events)
	}
	return headerErr
}

// rebase discards this transaction's speculative writes (none of which are
// durable yet) and replays its logical op log against the now-current
// snapshot. A transaction with more recorded ops than RebaseOpLimit fails
// fast with ConflictTooLarge rather than replaying an unbounded log while
// holding the commit lock.
func (tx *Transaction) rebase() error {
	opCount := len(tx.opLog)
	if opCount > tx.mgr.rebaseOpLimit {
		err := dberr.Conflict(dberr.ReasonConflictTooLarge, "too many operations to rebase")
		tx.mgr.log.LogRebase(opCount, err)
		return err
	}

	tx.discardWrites()
	tx.writes = make(map[uint64][]byte)
	tx.reserved = make(map[uint64]bool)
	tx.freed = nil
	tx.roots = make(map[string]uint64)
	tx.snapshotID = tx.mgr.latest
	// Replayed ops re-derive their own change events via Publish; anything
	// queued before the rebase described a write that never happened.
	tx.events = nil

	ops := tx.opLog
	tx.opLog = nil
	for _, op := range ops {
		if err := op(tx); err != nil {
			tx.mgr.log.LogRebase(opCount, err)
			return err
		}
	}
	tx.mgr.log.LogRebase(opCount, nil)
	return nil
}

// discardWrites returns every page this transaction optimistically
// allocated back to the pager, since none of them were ever committed.
func (tx *Transaction) discardWrites() {
	for ptr := range tx.reserved {
		tx.mgr.pager.Unreserve(ptr)
	}
}

// Rollback discards this transaction's write buffer without touching the
// WAL or the cache -- nothing it did was ever visible to anyone else.
func (tx *Transaction) Rollback() {
	if tx.state != StateActive {
		return
	}
	tx.discardWrites()
	tx.state = StateAborted

	tx.mgr.regMu.Lock()
	tx.mgr.aborted++
	tx.mgr.regMu.Unlock()

	tx.mgr.releaseSnapshot(tx)
}
