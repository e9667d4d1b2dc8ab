//go:build windows

// ABOUTME: Windows stub: the engine's single-process model is exercised on
// ABOUTME: Unix in this codebase's test suite; Windows locking is not wired

package lock

import "github.com/nainya/docbase/pkg/dberr"

var ErrLocked = dberr.New(dberr.KindConflict, "database is locked by another process")

type FileLock struct{}

func Acquire(path string) (*FileLock, error) {
	return nil, dberr.New(dberr.KindIoError, "file locking is not implemented on windows")
}

func (l *FileLock) Release() error { return nil }
