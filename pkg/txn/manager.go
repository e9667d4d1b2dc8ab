// ABOUTME: Transaction manager: commit lock, active-snapshot registry, and
// ABOUTME: the minimum-snapshot watermark the pager's free list depends on

package txn

import (
	"sync"

	"github.com/nainya/docbase/internal/logger"
	"github.com/nainya/docbase/pkg/cache"
	"github.com/nainya/docbase/pkg/pager"
	"github.com/nainya/docbase/pkg/wal"
)

// ChangeEvent is handed to Manager.onCommit strictly after a transaction's
// frames are durable in the WAL -- never before, and never on rollback.
type ChangeEvent struct {
	Collection string
	Kind       string // "insert", "update", "delete"
	DocID      string
}

// Manager coordinates every Transaction against one pager/cache/WAL triple.
// The commit lock (commitMu) is the only point of serialization between
// concurrent committers; reads never take it.
type Manager struct {
	pager *pager.Pager
	cache *cache.Cache
	wal   *wal.WAL

	commitMu sync.Mutex

	regMu  sync.Mutex
	active map[uint64]int // snapshot id -> count of open transactions at that snapshot
	latest uint64         // id of the most recently committed transaction

	rebaseOpLimit int
	onCommit      func([]ChangeEvent)
	log           *logger.Logger

	committed, aborted uint64
	activeCount        int64
}

func NewManager(p *pager.Pager, c *cache.Cache, w *wal.WAL, rebaseOpLimit int, onCommit func([]ChangeEvent)) *Manager {
	return &Manager{
		pager:         p,
		cache:         c,
		wal:           w,
		active:        make(map[uint64]int),
		latest:        p.NextTxID(),
		rebaseOpLimit: rebaseOpLimit,
		onCommit:      onCommit,
		log:           logger.GetGlobalLogger().TxnLogger(),
	}
}

// Begin opens a transaction at the current latest committed snapshot.
func (m *Manager) Begin() *Transaction {
	m.regMu.Lock()
	snap := m.latest
	m.active[snap]++
	m.activeCount++
	m.regMu.Unlock()

	return &Transaction{
		mgr:        m,
		snapshotID: snap,
		writes:     make(map[uint64][]byte),
		reserved:   make(map[uint64]bool),
		roots:      make(map[string]uint64),
		state:      StateActive,
	}
}

// oldestActiveSnapshot is the minimum snapshot id among currently open
// transactions, or the latest commit id if none are open. A page freed
// after this point must never be handed back out by the pager's free list
// -- some open reader may still reach it through a retained old root.
func (m *Manager) oldestActiveSnapshot() uint64 {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	oldest := m.latest
	for snap := range m.active {
		if snap < oldest {
			oldest = snap
		}
	}
	return oldest
}

func (m *Manager) releaseSnapshot(tx *Transaction) {
	m.regMu.Lock()
	m.active[tx.snapshotID]--
	if m.active[tx.snapshotID] <= 0 {
		delete(m.active, tx.snapshotID)
	}
	m.activeCount--
	m.regMu.Unlock()
}

// Latest returns the most recently committed transaction id.
func (m *Manager) Latest() uint64 {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.latest
}

// Stats reports counters for metrics().
func (m *Manager) Stats() (committed, aborted uint64, active int64) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.committed, m.aborted, m.activeCount
}
