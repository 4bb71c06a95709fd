package vectable

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/vectable/internal/engine"
)

// MetricsObserver receives table events. Implement it to integrate with a
// monitoring system; the metrics package ships a Prometheus implementation.
type MetricsObserver = engine.MetricsObserver

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver = engine.NoopMetricsObserver

// BasicMetricsObserver provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsObserver struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	RowsWritten      atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	FoldCount        atomic.Int64
	FoldErrors       atomic.Int64
	RowsFolded       atomic.Int64
	CleanupCount     atomic.Int64
	BlobsDeleted     atomic.Int64
	ActiveSnapshots  atomic.Int64
}

// OnCommit implements MetricsObserver.
func (b *BasicMetricsObserver) OnCommit(_, _ string, rows int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.RowsWritten.Add(int64(rows))
}

// OnQuery implements MetricsObserver.
func (b *BasicMetricsObserver) OnQuery(_, _ string, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// OnFold implements MetricsObserver.
func (b *BasicMetricsObserver) OnFold(_ string, rows int, _ time.Duration, err error) {
	b.FoldCount.Add(1)
	if err != nil {
		b.FoldErrors.Add(1)
		return
	}
	b.RowsFolded.Add(int64(rows))
}

// OnCleanup implements MetricsObserver.
func (b *BasicMetricsObserver) OnCleanup(_ string, stats CleanupStats, _ time.Duration, _ error) {
	b.CleanupCount.Add(1)
	b.BlobsDeleted.Add(int64(stats.BlobsDeleted))
}

// OnActiveSnapshots implements MetricsObserver. With several tables the
// value is the last reported count.
func (b *BasicMetricsObserver) OnActiveSnapshots(_ string, n int64) {
	b.ActiveSnapshots.Store(n)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		CommitAvgNanos:  avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		RowsWritten:     b.RowsWritten.Load(),
		QueryCount:      b.QueryCount.Load(),
		QueryErrors:     b.QueryErrors.Load(),
		QueryAvgNanos:   avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		FoldCount:       b.FoldCount.Load(),
		FoldErrors:      b.FoldErrors.Load(),
		RowsFolded:      b.RowsFolded.Load(),
		CleanupCount:    b.CleanupCount.Load(),
		BlobsDeleted:    b.BlobsDeleted.Load(),
		ActiveSnapshots: b.ActiveSnapshots.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	CommitCount     int64
	CommitErrors    int64
	CommitAvgNanos  int64
	RowsWritten     int64
	QueryCount      int64
	QueryErrors     int64
	QueryAvgNanos   int64
	FoldCount       int64
	FoldErrors      int64
	RowsFolded      int64
	CleanupCount    int64
	BlobsDeleted    int64
	ActiveSnapshots int64
}
