// ABOUTME: Database open-time configuration
// ABOUTME: Cache size, auto-checkpoint threshold, rebase limit, sync mode

package docbase

import "github.com/nainya/docbase/pkg/wal"

// Options configures a Database at Open time.
type Options struct {
	// CacheCapacityPages bounds the page cache's clean-entry residency.
	CacheCapacityPages int
	// AutoCheckpointThresholdFrames triggers a synchronous checkpoint right
	// after any commit that leaves the WAL at or beyond this many frames.
	AutoCheckpointThresholdFrames uint64
	// RebaseOpLimit bounds how many recorded ops a stale transaction may
	// replay at commit before failing fast with ConflictTooLarge.
	RebaseOpLimit int
	// SyncMode controls how aggressively the WAL fsyncs on commit.
	SyncMode wal.SyncMode
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		CacheCapacityPages:            2048,
		AutoCheckpointThresholdFrames: 1000,
		RebaseOpLimit:                 10000,
		SyncMode:                      wal.SyncFull,
	}
}
