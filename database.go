// ABOUTME: Database: opens the on-disk file triple, wires pager/cache/WAL
// ABOUTME: into a transaction manager, and bootstraps the metadata root

package docbase

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/nainya/docbase/internal/lock"
	"github.com/nainya/docbase/internal/logger"
	"github.com/nainya/docbase/internal/metrics"
	"github.com/nainya/docbase/pkg/cache"
	"github.com/nainya/docbase/pkg/changebus"
	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/metaroot"
	"github.com/nainya/docbase/pkg/pager"
	"github.com/nainya/docbase/pkg/txn"
	"github.com/nainya/docbase/pkg/wal"
)

// checkpointerInterval is the idle-period backstop: the primary trigger is
// the synchronous post-commit frame-count check in Transaction.Commit.
const checkpointerInterval = 30 * time.Second

// changeBusBufferSize bounds each subscriber's per-collection event queue.
const changeBusBufferSize = 256

// Database is a single open handle onto the on-disk file triple (<path>,
// <path>.lock, <path>-wal). It owns the pager/cache/WAL/transaction-manager
// stack and the metadata root's current page pointer.
type Database struct {
	path string

	fileLock *lock.FileLock
	pager    *pager.Pager
	cache    *cache.Cache
	wal      *wal.WAL
	mgr      *txn.Manager
	bus      *changebus.Bus
	metrics  *metrics.Metrics
	log      *logger.Logger

	checkpointer *wal.Checkpointer

	autoCkpt atomic.Uint64
	closed   atomic.Bool
}

// Open opens (creating if necessary) the database at path, acquiring its
// advisory file lock first and recovering any WAL left by an unclean
// previous shutdown before serving transactions.
func Open(path string, opts Options) (*Database, error) {
	fl, err := lock.Acquire(path + ".lock")
	if err != nil {
		return nil, err
	}

	p, err := pager.Open(path)
	if err != nil {
		fl.Release()
		return nil, err
	}

	recoveryStart := time.Now()
	w, lastTxID, err := wal.Recover(path, opts.SyncMode)
	if err != nil {
		p.Close()
		fl.Release()
		return nil, err
	}
	if lastTxID+1 > p.NextTxID() {
		p.SetNextTxID(lastTxID + 1)
	}
	if frames := w.FrameCount(); frames > 0 {
		logger.GetGlobalLogger().LogRecovery(int(frames), time.Since(recoveryStart))
	}

	db := &Database{
		path:     path,
		fileLock: fl,
		pager:    p,
		cache:    cache.New(opts.CacheCapacityPages),
		wal:      w,
		bus:      changebus.New(changeBusBufferSize),
		metrics:  metrics.NewMetrics(),
		log:      logger.GetGlobalLogger(),
	}
	db.autoCkpt.Store(opts.AutoCheckpointThresholdFrames)

	db.mgr = txn.NewManager(p, db.cache, w, opts.RebaseOpLimit, db.deliverEvents)

	if p.MetadataPage() == 0 {
		if err := db.bootstrapMetaRoot(); err != nil {
			w.Close()
			p.Close()
			fl.Release()
			return nil, err
		}
	}

	db.checkpointer = wal.NewCheckpointer(checkpointerInterval, db.Checkpoint, func(err error) {
		db.log.StorageLogger().Warn("background checkpoint failed").Err(err).Send()
	})
	db.checkpointer.Start()

	return db, nil
}

// bootstrapMetaRoot writes an empty metadata root through a throwaway
// transaction on first open of a fresh file, so every later commit can
// assume page 0's metadata pointer is already valid. Routing it through
// SetRoot(txn.MetaRootName, ...) + Commit, exactly like any other
// metadata-touching transaction, means the header's num_pages/metadata_page
// advance together inside that transaction's own commit lock instead of
// via a second, separately-sequenced write here.
func (db *Database) bootstrapMetaRoot() error {
	root := metaroot.New()
	buf, err := root.Encode()
	if err != nil {
		return err
	}

	tx := db.mgr.Begin()
	ptr := tx.New(buf)
	tx.SetRoot(txn.MetaRootName, ptr)
	return tx.Commit()
}

// currentMetaPtr reads the pager's current metadata pointer directly
// (pager.MetadataPage is itself mutex-protected) rather than from a
// separately-cached copy, so a transaction rebasing under the commit lock
// always observes the metadata root of the commit that most recently
// updated it, never a stale value published outside that lock.
func (db *Database) currentMetaPtr() uint64 { return db.pager.MetadataPage() }

// loadMetaRoot returns tx's view of the metadata root, loading it via the
// transaction's named-root cache on first touch within tx.
func loadMetaRoot(db *Database, ttx *txn.Transaction) (*metaroot.Root, error) {
	ptr := ttx.RootFor(txn.MetaRootName, db.currentMetaPtr)
	return metaroot.Decode(ttx.Get(ptr))
}

// Begin starts a new transaction against the database's current committed
// snapshot. The caller should `defer tx.Rollback()` immediately; Rollback
// is a no-op once Commit has already run.
func (db *Database) Begin() *Transaction {
	return &Transaction{db: db, ttx: db.mgr.Begin()}
}

// Close stops the background checkpointer, folds the WAL one last time,
// and releases every resource in reverse acquisition order. A failed final
// checkpoint is logged and, once every resource is released, returned; the
// WAL is left intact for the next Open's recovery.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.checkpointer.Stop()

	ckptErr := db.Checkpoint()
	if ckptErr != nil {
		db.log.StorageLogger().Warn("final checkpoint on close failed, WAL left for next recovery").Err(ckptErr).Send()
	}

	if err := db.wal.Close(); err != nil {
		db.log.StorageLogger().Warn("error closing WAL").Err(err).Send()
	}
	if err := db.pager.Close(); err != nil {
		db.log.StorageLogger().Warn("error closing database file").Err(err).Send()
	}
	releaseErr := db.fileLock.Release()
	if ckptErr != nil {
		return ckptErr
	}
	return releaseErr
}

// Checkpoint folds every WAL frame back into the main file and truncates
// the log. Safe to call concurrently with commits and safe to retry after
// a failure, since a failed wal.Checkpoint leaves the WAL intact and a
// retry writes the same page images into the main file again.
func (db *Database) Checkpoint() error {
	before := db.wal.FrameCount()
	start := time.Now()
	err := db.wal.Checkpoint(db.pager)
	db.metrics.RecordCheckpoint(time.Since(start), err)
	db.log.LogCheckpoint(int(before), time.Since(start), err)
	return err
}

// FrameCount reports the WAL's current frame count.
func (db *Database) FrameCount() uint64 { return db.wal.FrameCount() }

// SetAutoCheckpointThreshold changes the frame count that triggers a
// synchronous post-commit checkpoint. A value of 0 disables the
// commit-triggered trigger; the background checkpointer still runs.
func (db *Database) SetAutoCheckpointThreshold(nFrames uint64) {
	db.autoCkpt.Store(nFrames)
}

// maybeAutoCheckpoint runs the synchronous, commit-triggered checkpoint
// check: the deterministic half of the dual trigger, satisfying the
// testable property that frame_count() drops back under the threshold
// immediately after the commit that crossed it, rather than waiting for
// the background checkpointer's next tick.
func (db *Database) maybeAutoCheckpoint() {
	threshold := db.autoCkpt.Load()
	if threshold == 0 || db.wal.FrameCount() < threshold {
		return
	}
	if err := db.Checkpoint(); err != nil {
		db.log.StorageLogger().Warn("auto-checkpoint failed").Err(err).Send()
	}
}

// deliverEvents is the transaction manager's onCommit hook: it fans a
// commit's queued change events out to the change bus, strictly after the
// commit lock has been released and the frames are durable.
func (db *Database) deliverEvents(evs []txn.ChangeEvent) {
	if len(evs) == 0 {
		return
	}
	out := make([]changebus.Event, len(evs))
	for i, ev := range evs {
		out[i] = changebus.Event{Collection: ev.Collection, Op: ev.Kind, DocID: ev.DocID}
	}
	db.bus.Publish(out)
}

// IndexInfo describes one secondary index, for Info().
type IndexInfo struct {
	Name   string
	Field  string
	Unique bool
}

// CollectionInfo describes one collection, for Info().
type CollectionInfo struct {
	Name          string
	DocumentCount int
	Indexes       []IndexInfo
}

// Info reports the database's collections, their document counts, and
// their secondary indexes.
type Info struct {
	Collections    []CollectionInfo
	TotalDocuments int
}

// Info scans every collection's primary tree to report document counts
// alongside the metadata root's structural registry.
func (db *Database) Info() (Info, error) {
	tx := db.Begin()
	defer tx.Rollback()

	root, err := loadMetaRoot(db, tx.ttx)
	if err != nil {
		return Info{}, err
	}

	var info Info
	for _, c := range root.Collections {
		if c.Dropped {
			continue
		}
		count := 0
		tree := tx.ttx.Tree(c.PrimaryRoot)
		tree.Scan([]byte{}, func(_, _ []byte) bool {
			count++
			return true
		})

		idxs := make([]IndexInfo, 0, len(c.Indexes))
		for _, idx := range c.Indexes {
			idxs = append(idxs, IndexInfo{Name: idx.Name, Field: idx.Field, Unique: idx.Unique})
		}

		info.Collections = append(info.Collections, CollectionInfo{
			Name:          c.Name,
			DocumentCount: count,
			Indexes:       idxs,
		})
		info.TotalDocuments += count
	}
	return info, nil
}

// Backup checkpoints the database so the main file is self-contained, then
// copies it to destPath. The copy is best-effort-consistent: concurrent
// writers are not quiesced, matching the teacher's single-process,
// no-distributed-coordination scope (see DESIGN.md).
func (db *Database) Backup(destPath string) error {
	if err := db.Checkpoint(); err != nil {
		return err
	}

	src, err := os.Open(db.path)
	if err != nil {
		return dberr.IoError("open source file for backup", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return dberr.IoError("create backup destination", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return dberr.IoError("copy backup contents", err)
	}
	if err := dst.Sync(); err != nil {
		return dberr.IoError("sync backup", err)
	}
	return nil
}
