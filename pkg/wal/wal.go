// ABOUTME: Single-file write-ahead log: page-image frames + commit markers
// ABOUTME: Durability boundary between checkpoints; truncated on checkpoint

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/pager"
)

// SyncMode controls how aggressively AppendFrames fsyncs the log file.
// "full" fsyncs after every commit group (frames + commit marker); "normal"
// relies on the OS to flush eventually, trading durability-on-power-loss
// for throughput. Never an Open/Close-time file corruption risk either way.
type SyncMode int

const (
	SyncFull SyncMode = iota
	SyncNormal
)

// frameLoc locates one page image written to the log, for Lookup.
type frameLoc struct {
	txID    uint64
	pageNum uint64
	offset  int64
}

// WAL wraps a single growable <db>-wal file. It tracks an in-memory index
// of page_num -> ascending-by-txID frame locations so reads of a committed-
// but-not-yet-checkpointed page can be served without scanning the file.
type WAL struct {
	mu       sync.Mutex
	path     string
	fd       int
	offset   int64
	sync     SyncMode
	index    map[uint64][]frameLoc
	nextLSN  uint64
	nFrames  uint64
	lastTxID uint64
}

// WalPath derives the WAL file name from the main database file path, per
// spec's "<db>-wal" single-file convention.
func WalPath(dbPath string) string {
	return dbPath + "-wal"
}

func Open(dbPath string, mode SyncMode) (*WAL, error) {
	path := WalPath(dbPath)
	fd, err := openSync(path)
	if err != nil {
		return nil, dberr.IoError("open WAL file", err)
	}
	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		_ = syscall.Close(fd)
		return nil, dberr.IoError("fstat WAL", err)
	}
	w := &WAL{
		path:  path,
		fd:    fd,
		sync:  mode,
		index: make(map[uint64][]frameLoc),
	}
	if err := w.rebuildIndex(stat.Size); err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}
	return w, nil
}

// rebuildIndex scans the full file at open time, stopping at the first
// truncated or checksum-invalid record and discarding any frames belonging
// to the uncommitted tail transaction. Recover is this same scan; neither
// writes pages back into the main file, both only populate the lookup index.
func (w *WAL) rebuildIndex(size int64) error {
	if size == 0 {
		w.offset = 0
		return nil
	}
	buf := make([]byte, size)
	if _, err := syscall.Pread(w.fd, buf, 0); err != nil {
		return dberr.IoError("read WAL", err)
	}

	pending := make(map[uint64][]frameLoc) // txID -> frame locations, not yet committed
	var off int64
	for int(off) < len(buf) {
		rec, err := decodeRecordAt(buf[off:])
		if err != nil {
			break // truncated or corrupt tail: treat everything before as the durable log
		}
		switch rec.kind {
		case recFrame:
			pending[rec.txID] = append(pending[rec.txID], frameLoc{txID: rec.txID, pageNum: rec.pageNum, offset: off})
			w.nFrames++
		case recCommit:
			for _, loc := range pending[rec.txID] {
				w.index[loc.pageNum] = append(w.index[loc.pageNum], loc)
			}
			delete(pending, rec.txID)
			if rec.txID > w.lastTxID {
				w.lastTxID = rec.txID
			}
		}
		if rec.lsn >= w.nextLSN {
			w.nextLSN = rec.lsn + 1
		}
		off += int64(rec.size)
	}
	for _, locs := range w.index {
		sort.Slice(locs, func(i, j int) bool { return locs[i].txID < locs[j].txID })
	}
	w.offset = off
	return nil
}

// AppendFrames durably writes every page image a committing transaction
// produced, followed by a single commit marker, and updates the in-memory
// index only after the marker itself is fsynced -- a reader must never see
// a page from a transaction whose commit marker didn't make it to disk.
func (w *WAL) AppendFrames(txID uint64, writes map[uint64][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pages := make([]uint64, 0, len(writes))
	for p := range writes {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	locs := make(map[uint64]frameLoc, len(pages))
	off := w.offset
	var buf []byte
	for _, p := range pages {
		lsn := w.nextLSN
		w.nextLSN++
		rec := encodeFrame(lsn, txID, p, writes[p])
		locs[p] = frameLoc{txID: txID, pageNum: p, offset: off}
		off += int64(len(rec))
		buf = append(buf, rec...)
	}
	commitLSN := w.nextLSN
	w.nextLSN++
	commitRec := encodeCommit(commitLSN, txID)
	buf = append(buf, commitRec...)

	if _, err := syscall.Pwrite(w.fd, buf, w.offset); err != nil {
		return dberr.IoError("append WAL frames", err)
	}
	if w.sync == SyncFull {
		if err := syscall.Fsync(w.fd); err != nil {
			return dberr.IoError("fsync WAL", err)
		}
	}

	w.offset = off + int64(len(commitRec))
	w.nFrames += uint64(len(pages))
	w.lastTxID = txID
	for p, loc := range locs {
		w.index[p] = append(w.index[p], loc)
	}
	return nil
}

// Lookup returns the newest page image for pageNum written by a transaction
// with txID <= visibleUpToTxID, reading it back off disk. Returns ok=false
// if no WAL frame satisfies the snapshot -- the caller falls back to the
// pager's durable copy.
func (w *WAL) Lookup(pageNum uint64, visibleUpToTxID uint64) ([]byte, bool) {
	w.mu.Lock()
	locs := w.index[pageNum]
	w.mu.Unlock()

	var best *frameLoc
	for i := range locs {
		if locs[i].txID <= visibleUpToTxID {
			if best == nil || locs[i].txID > best.txID {
				l := locs[i]
				best = &l
			}
		}
	}
	if best == nil {
		return nil, false
	}

	header := make([]byte, frameHeaderSize)
	if _, err := syscall.Pread(w.fd, header, best.offset); err != nil {
		return nil, false
	}
	image := make([]byte, pager.PageSize)
	if _, err := syscall.Pread(w.fd, image, best.offset+frameHeaderSize); err != nil {
		return nil, false
	}
	return image, true
}

// FrameCount returns the cumulative number of page-image frames appended
// since the last checkpoint, for auto-checkpoint threshold comparisons.
func (w *WAL) FrameCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nFrames
}

// Reset clears the in-memory index and offset after a successful checkpoint
// truncates the underlying file to zero length.
func (w *WAL) reset() {
	w.offset = 0
	w.nFrames = 0
	w.index = make(map[uint64][]frameLoc)
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return syscall.Close(w.fd)
}

func openSync(file string) (int, error) {
	fd, err := syscall.Open(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open file: %w", err)
	}
	dirfd, err := syscall.Open(filepath.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)
	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory: %w", err)
	}
	return fd, nil
}
