// ABOUTME: Startup recovery: open the WAL, discard any uncommitted tail,
// ABOUTME: and hand back the frame index plus the last committed tx id

package wal

// Recover opens the WAL file for dbPath, scanning it exactly as Open does:
// runs of frames followed by a commit marker are indexed, a trailing run
// with no commit marker (the crash-mid-transaction case) is discarded.
// Recovery does not write pages back into the main file -- reads below the
// checkpoint boundary continue to be served from the WAL's frame index
// until the next checkpoint folds them into the pager.
func Recover(dbPath string, mode SyncMode) (*WAL, uint64, error) {
	w, err := Open(dbPath, mode)
	if err != nil {
		return nil, 0, err
	}
	return w, w.lastTxID, nil
}
