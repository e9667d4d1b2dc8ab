//go:build !windows

// ABOUTME: Advisory exclusive lock on the database's .lock file
// ABOUTME: Enforces the single-process-single-file concurrency model

package lock

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/nainya/docbase/pkg/dberr"
)

// ErrLocked is returned by Acquire when another process already holds the
// lock -- this is not a Go-level mutex, it's advisory across processes.
var ErrLocked = dberr.New(dberr.KindConflict, "database is locked by another process")

// FileLock holds an exclusive, non-blocking advisory lock on path for as
// long as the process runs (or until Release is called).
type FileLock struct {
	f *os.File
}

// Acquire opens (creating if needed) path and takes an exclusive
// non-blocking flock on it. Only one process may hold this at a time --
// per spec's "no server, no network protocol" single-process model, this
// is the entire cross-process concurrency story.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.IoError("open lock file", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, dberr.IoError("flock", err)
	}
	return &FileLock{f: f}, nil
}

func (l *FileLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return dberr.IoError("unlock", err)
	}
	return l.f.Close()
}
