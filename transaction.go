// ABOUTME: Transaction wraps the MVCC engine's *txn.Transaction, adding the
// ABOUTME: metadata-root durability step and dual-trigger auto-checkpoint

package docbase

import (
	"time"

	"github.com/nainya/docbase/pkg/txn"
)

// Transaction is a single unit of work against a Database. Every write
// made through a CollectionHandle obtained from it is staged in memory
// until Commit; nothing is visible to other transactions, and nothing
// touches disk, before then.
type Transaction struct {
	db  *Database
	ttx *txn.Transaction
}

// Collection returns a handle for reading and writing the named
// collection within this transaction. Collections are created implicitly
// on first write; there is no separate create-collection call.
func (tx *Transaction) Collection(name string) *CollectionHandle {
	return &CollectionHandle{tx: tx, name: name}
}

// Commit runs the underlying engine's commit protocol. If this
// transaction touched the metadata root, ttx.Commit itself durably
// advances the pager's header to point at the new version -- num_pages
// extended and metadata_page updated together, inside the same commit
// lock that serializes against rebasing transactions (see
// pkg/txn.Transaction.Commit). A non-nil return here with the
// transaction nonetheless fully committed means only that the header
// flush itself failed; the commit's WAL frames are already durable and
// will be replayed on the next recovery regardless.
func (tx *Transaction) Commit() error {
	start := time.Now()

	commitErr := tx.ttx.Commit()
	if tx.ttx.State() != txn.StateCommitted {
		tx.db.metrics.TransactionsAbortedTotal.Inc()
		return commitErr
	}

	writes := tx.ttx.Writes()
	var bytesWritten int
	for _, page := range writes {
		bytesWritten += len(page)
	}
	tx.db.metrics.TransactionsCommittedTotal.Inc()
	tx.db.metrics.PagesAllocatedTotal.Add(float64(len(writes)))
	tx.db.metrics.PagesFreedTotal.Add(float64(tx.ttx.FreedCount()))
	tx.db.metrics.WalWritesTotal.Add(float64(len(writes)))
	tx.db.metrics.WalBytesWrittenTotal.Add(float64(bytesWritten))
	tx.db.log.TxnLogger().LogCommit(tx.ttx.SnapshotID()+1, time.Since(start), len(writes))

	tx.db.maybeAutoCheckpoint()
	return commitErr
}

// Rollback discards every write staged by this transaction. Safe to call
// more than once, and safe to call after Commit (a no-op in that case) --
// callers are expected to `defer tx.Rollback()` immediately after Begin.
func (tx *Transaction) Rollback() {
	if tx.ttx.State() != txn.StateActive {
		return
	}
	tx.ttx.Rollback()
}
