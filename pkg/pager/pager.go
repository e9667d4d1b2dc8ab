// ABOUTME: Pager maps page numbers to fixed 4096-byte file offsets
// ABOUTME: Owns the file handle, free list, and num_pages counter

package pager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nainya/docbase/pkg/dberr"
)

// Pager is the bottom layer of the engine: it has no notion of snapshots,
// transactions, or caching -- only pages on disk. read_page and write_page
// never consult the cache or WAL (per spec); everything above this layer
// is responsible for routing through those first.
type Pager struct {
	mu   sync.Mutex
	path string
	fd   int

	numPages     uint64
	metadataPage uint64
	nextTxID     uint64
	free         *freeList

	// nextReserved is the watermark for optimistically-reserved-but-not-yet-
	// committed page numbers; it only becomes part of numPages once a
	// transaction referencing it actually commits.
	nextReserved uint64
}

// Open opens or creates the main database file and validates its header.
func Open(path string) (*Pager, error) {
	fd, err := createFileSync(path)
	if err != nil {
		return nil, dberr.IoError("open database file", err)
	}

	p := &Pager{path: path, fd: fd, free: newFreeList(freeListCapacity)}

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		_ = syscall.Close(fd)
		return nil, dberr.IoError("fstat", err)
	}

	if stat.Size == 0 {
		p.numPages = 1 // page 0 is reserved for the header
		p.nextReserved = 1
		if err := p.FlushHeader(); err != nil {
			_ = syscall.Close(fd)
			return nil, err
		}
		return p, nil
	}

	buf := make([]byte, PageSize)
	if _, err := syscall.Pread(fd, buf, 0); err != nil {
		_ = syscall.Close(fd)
		return nil, dberr.IoError("read header", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}
	p.numPages = h.numPages
	p.metadataPage = h.metadataPage
	p.nextTxID = h.nextTxID
	p.free.load(h.free)
	p.nextReserved = h.numPages
	return p, nil
}

func (p *Pager) Close() error {
	return syscall.Close(p.fd)
}

// ReadPage reads page n directly from the file. It does not consult the
// cache or WAL -- callers above the pager must do that first.
func (p *Pager) ReadPage(n uint64) ([]byte, error) {
	p.mu.Lock()
	if n >= p.numPages {
		p.mu.Unlock()
		return nil, dberr.New(dberr.KindNotFound, fmt.Sprintf("page %d not allocated", n))
	}
	p.mu.Unlock()

	buf := make([]byte, PageSize)
	if _, err := syscall.Pread(p.fd, buf, int64(n)*PageSize); err != nil {
		return nil, dberr.IoError(fmt.Sprintf("read page %d", n), err)
	}
	return buf, nil
}

// WritePage writes a page directly; used only by checkpoint.
func (p *Pager) WritePage(n uint64, data []byte) error {
	if len(data) != PageSize {
		return dberr.InvalidArgument("page size mismatch")
	}
	if _, err := syscall.Pwrite(p.fd, data, int64(n)*PageSize); err != nil {
		return dberr.IoError(fmt.Sprintf("write page %d", n), err)
	}
	p.mu.Lock()
	if n >= p.numPages {
		p.numPages = n + 1
	}
	p.mu.Unlock()
	return nil
}

// Allocate reserves a page number: from the free list if a safely-reusable
// entry exists (freedAt <= oldestActiveSnapshot), otherwise by extending the
// tentative end-of-file counter. The returned number is not durable until a
// transaction that references it commits.
func (p *Pager) Allocate(oldestActiveSnapshot uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ptr, ok := p.free.pop(oldestActiveSnapshot); ok {
		return ptr
	}
	ptr := p.nextReserved
	p.nextReserved++
	return ptr
}

// Free pushes a page that a committing transaction replaced via
// copy-on-write onto the free list, gated by the commit id that freed it.
func (p *Pager) Free(n uint64, freedAtTxID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.push(n, freedAtTxID)
}

// Unreserve returns an optimistically-allocated page that was never
// committed (rollback, or superseded by a rebase) to immediate availability.
func (p *Pager) Unreserve(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.unreserve(n)
}

// Extend grows num_pages to cover a page number a transaction just
// committed writes for, if it lies beyond the current durable boundary.
func (p *Pager) Extend(maxPage uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxPage >= p.numPages {
		p.numPages = maxPage + 1
	}
	if maxPage >= p.nextReserved {
		p.nextReserved = maxPage + 1
	}
}

func (p *Pager) NumPages() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

func (p *Pager) MetadataPage() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadataPage
}

func (p *Pager) SetMetadataPage(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadataPage = n
}

func (p *Pager) NextTxID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextTxID
}

func (p *Pager) SetNextTxID(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTxID = id
}

func (p *Pager) FreeListLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.len()
}

// FlushHeader serializes and fsyncs page 0. Per spec this must only be
// called once every page it references is already durable.
func (p *Pager) FlushHeader() error {
	p.mu.Lock()
	h := &header{
		numPages:     p.numPages,
		metadataPage: p.metadataPage,
		nextTxID:     p.nextTxID,
		free:         p.free.serialize(),
	}
	p.mu.Unlock()

	if _, err := syscall.Pwrite(p.fd, h.encode(), 0); err != nil {
		return dberr.IoError("write header", err)
	}
	if err := syscall.Fsync(p.fd); err != nil {
		return dberr.IoError("fsync header", err)
	}
	return nil
}

func (p *Pager) Fsync() error {
	if err := syscall.Fsync(p.fd); err != nil {
		return dberr.IoError("fsync database file", err)
	}
	return nil
}

// createFileSync opens (creating if needed) the database file and fsyncs
// its parent directory so the file's existence itself survives a crash.
func createFileSync(file string) (int, error) {
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
