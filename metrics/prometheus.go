// Package metrics exports table events to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/vectable"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "vectable"

// PrometheusObserver implements vectable.MetricsObserver.
type PrometheusObserver struct {
	commitLatency *prometheus.HistogramVec
	rowsWritten   *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	folds         *prometheus.CounterVec
	rowsFolded    *prometheus.CounterVec
	cleanups      *prometheus.CounterVec
	blobsDeleted  *prometheus.CounterVec
	bytesFreed    *prometheus.CounterVec
	snapshots     *prometheus.GaugeVec
}

var _ vectable.MetricsObserver = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	o := &PrometheusObserver{
		commitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_latency_seconds",
			Help:      "Latency of table mutations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "op", "status"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows affected by successful mutations",
		}, []string{"table", "op"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Latency of queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "kind", "status"}),
		folds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_folds_total",
			Help:      "Index folds completed",
		}, []string{"table", "status"}),
		rowsFolded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rows_folded_total",
			Help:      "Rows moved from the unindexed buffer into the index",
		}, []string{"table"}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Cleanup runs",
		}, []string{"table", "status"}),
		blobsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_blobs_deleted_total",
			Help:      "Blobs removed by cleanup",
		}, []string{"table"}),
		bytesFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_bytes_reclaimed_total",
			Help:      "Bytes reclaimed by cleanup",
		}, []string{"table"}),
		snapshots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_snapshots",
			Help:      "Snapshots pinned by open queries and cursors",
		}, []string{"table"}),
	}

	for _, c := range o.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		o.commitLatency, o.rowsWritten, o.queryLatency, o.folds, o.rowsFolded,
		o.cleanups, o.blobsDeleted, o.bytesFreed, o.snapshots,
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// OnCommit implements vectable.MetricsObserver.
func (o *PrometheusObserver) OnCommit(table, op string, rows int, d time.Duration, err error) {
	o.commitLatency.WithLabelValues(table, op, status(err)).Observe(d.Seconds())
	if err == nil {
		o.rowsWritten.WithLabelValues(table, op).Add(float64(rows))
	}
}

// OnQuery implements vectable.MetricsObserver.
func (o *PrometheusObserver) OnQuery(table, kind string, d time.Duration, err error) {
	o.queryLatency.WithLabelValues(table, kind, status(err)).Observe(d.Seconds())
}

// OnFold implements vectable.MetricsObserver.
func (o *PrometheusObserver) OnFold(table string, rows int, _ time.Duration, err error) {
	o.folds.WithLabelValues(table, status(err)).Inc()
	if err == nil {
		o.rowsFolded.WithLabelValues(table).Add(float64(rows))
	}
}

// OnCleanup implements vectable.MetricsObserver.
func (o *PrometheusObserver) OnCleanup(table string, st vectable.CleanupStats, _ time.Duration, err error) {
	o.cleanups.WithLabelValues(table, status(err)).Inc()
	o.blobsDeleted.WithLabelValues(table).Add(float64(st.BlobsDeleted))
	o.bytesFreed.WithLabelValues(table).Add(float64(st.BytesReclaimed))
}

// OnActiveSnapshots implements vectable.MetricsObserver.
func (o *PrometheusObserver) OnActiveSnapshots(table string, n int64) {
	o.snapshots.WithLabelValues(table).Set(float64(n))
}
