// ABOUTME: Database.Metrics()'s plain-struct snapshot, backed by the
// ABOUTME: Prometheus counters and gauges in internal/metrics

package docbase

import "github.com/nainya/docbase/internal/metrics"

// Metrics is a point-in-time snapshot of the database's operational
// counters, per spec's metrics() field list.
type Metrics struct {
	TransactionsCommitted uint64
	TransactionsAborted   uint64
	ActiveTransactions    int64

	CacheHits    uint64
	CacheMisses  uint64
	CacheHitRate float64

	PagesAllocated uint64
	PagesFreed     uint64
	DirtyPages     int

	WalWrites       uint64
	WalBytesWritten uint64

	Checkpoints        uint64
	CheckpointFailures uint64
}

// Metrics returns a snapshot of the database's current counters.
func (db *Database) Metrics() Metrics {
	committed, aborted, active := db.mgr.Stats()
	hits, misses, _ := db.cache.Stats()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Metrics{
		TransactionsCommitted: committed,
		TransactionsAborted:   aborted,
		ActiveTransactions:    active,

		CacheHits:    hits,
		CacheMisses:  misses,
		CacheHitRate: hitRate,

		PagesAllocated: metrics.CounterValue(db.metrics.PagesAllocatedTotal),
		PagesFreed:     metrics.CounterValue(db.metrics.PagesFreedTotal),
		DirtyPages:     db.cache.DirtyCount(),

		WalWrites:       metrics.CounterValue(db.metrics.WalWritesTotal),
		WalBytesWritten: metrics.CounterValue(db.metrics.WalBytesWrittenTotal),

		Checkpoints:        metrics.CounterValue(db.metrics.CheckpointsTotal),
		CheckpointFailures: metrics.CounterValue(db.metrics.CheckpointFailuresTotal),
	}
}
