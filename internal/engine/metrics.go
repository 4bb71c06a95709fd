package engine

import "time"

// MetricsObserver receives table events.
type MetricsObserver interface {
	// OnCommit is called after every mutation attempt.
	OnCommit(table, op string, rows int, duration time.Duration, err error)

	// OnQuery is called when a query finishes or fails to start. kind is
	// "scan", "vector" or "count".
	OnQuery(table, kind string, duration time.Duration, err error)

	// OnFold is called when an index fold completes.
	OnFold(table string, rows int, duration time.Duration, err error)

	// OnCleanup is called when a cleanup completes.
	OnCleanup(table string, stats CleanupStats, duration time.Duration, err error)

	// OnActiveSnapshots reports the number of pinned snapshots of a table.
	OnActiveSnapshots(table string, n int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnCommit(string, string, int, time.Duration, error) {}
func (NoopMetricsObserver) OnQuery(string, string, time.Duration, error) {}
func (NoopMetricsObserver) OnFold(string, int, time.Duration, error) {}
func (NoopMetricsObserver) OnCleanup(string, CleanupStats, time.Duration, error) {}
func (NoopMetricsObserver) OnActiveSnapshots(string, int64) {}
