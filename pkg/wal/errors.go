package wal

import "errors"

// ErrTruncated marks a record that doesn't have all its bytes yet -- the
// tail of an in-progress write, or a crash mid-frame. Recovery treats this
// as the natural end of the committed log rather than a fatal error.
var ErrTruncated = errors.New("wal: truncated record")

// ErrCorrupted marks a record whose checksum didn't match its payload.
// Unlike ErrTruncated this can't be explained by a partial write at the
// tail alone if it occurs before the last record, and recovery surfaces it.
var ErrCorrupted = errors.New("wal: checksum mismatch")
