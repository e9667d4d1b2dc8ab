// Package metrics provides Prometheus metrics for docbase
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for docbase, covering the fields
// exposed through Database.Metrics().
type Metrics struct {
	TransactionsCommittedTotal prometheus.Counter
	TransactionsAbortedTotal   prometheus.Counter
	ActiveTransactions         prometheus.Gauge

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	PagesAllocatedTotal prometheus.Counter
	PagesFreedTotal     prometheus.Counter
	DirtyPages          prometheus.Gauge

	WalWritesTotal       prometheus.Counter
	WalBytesWrittenTotal prometheus.Counter

	CheckpointsTotal         prometheus.Counter
	CheckpointFailuresTotal  prometheus.Counter
	CheckpointDuration       prometheus.Histogram

	SearchQueriesTotal prometheus.Counter

	OpenSince time.Time
}

// NewMetrics creates all Prometheus metrics in a registry of their own, so
// every open Database gets an independent set and a second call in the same
// process does not collide with the first one's registrations.
func NewMetrics() *Metrics {
	m := &Metrics{OpenSince: time.Now()}
	factory := promauto.With(prometheus.NewRegistry())

	m.TransactionsCommittedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_transactions_committed_total",
		Help: "Total number of committed transactions",
	})
	m.TransactionsAbortedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_transactions_aborted_total",
		Help: "Total number of rolled-back transactions",
	})
	m.ActiveTransactions = factory.NewGauge(prometheus.GaugeOpts{
		Name: "docbase_active_transactions",
		Help: "Number of transactions currently open",
	})

	m.CacheHitsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_cache_hits_total",
		Help: "Total number of page cache hits",
	})
	m.CacheMissesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_cache_misses_total",
		Help: "Total number of page cache misses",
	})

	m.PagesAllocatedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_pages_allocated_total",
		Help: "Total number of pages allocated from the pager",
	})
	m.PagesFreedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_pages_freed_total",
		Help: "Total number of pages returned to the free list",
	})
	m.DirtyPages = factory.NewGauge(prometheus.GaugeOpts{
		Name: "docbase_dirty_pages",
		Help: "Number of dirty pages currently held in the cache",
	})

	m.WalWritesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_wal_writes_total",
		Help: "Total number of frames appended to the write-ahead log",
	})
	m.WalBytesWrittenTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_wal_bytes_written_total",
		Help: "Total bytes appended to the write-ahead log",
	})

	m.CheckpointsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_checkpoints_total",
		Help: "Total number of completed checkpoints",
	})
	m.CheckpointFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_checkpoint_failures_total",
		Help: "Total number of failed checkpoint attempts",
	})
	m.CheckpointDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "docbase_checkpoint_duration_seconds",
		Help:    "Duration of checkpoint operations in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.SearchQueriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "docbase_search_queries_total",
		Help: "Total number of full-text search queries executed",
	})

	return m
}

// CacheHitRate reports the fraction of cache lookups that hit, 0 when
// there have been no lookups yet.
func (m *Metrics) CacheHitRate() float64 {
	hits := getCounterValue(m.CacheHitsTotal)
	misses := getCounterValue(m.CacheMissesTotal)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total
}

func getCounterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// CounterValue reads back a counter's current value, for callers that want
// to snapshot cumulative Prometheus counters into a plain struct.
func CounterValue(c prometheus.Counter) uint64 {
	return uint64(getCounterValue(c))
}

// RecordCheckpoint records a checkpoint attempt's outcome and duration.
func (m *Metrics) RecordCheckpoint(duration time.Duration, err error) {
	m.CheckpointDuration.Observe(duration.Seconds())
	if err != nil {
		m.CheckpointFailuresTotal.Inc()
		return
	}
	m.CheckpointsTotal.Inc()
}
