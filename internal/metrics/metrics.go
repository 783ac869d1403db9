// Package metrics exposes Prometheus instruments for cache reconciliation,
// proximity queries and scoring on a registry owned by the process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "site_scorer"

// Metrics holds every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ShardDownloads    prometheus.Counter
	ShardDeletions    prometheus.Counter
	ReconcileDuration *prometheus.HistogramVec
	CachedShards      prometheus.Gauge
	QueryTasks        *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
	ScoredCandidates  *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
}

// New registers the instruments, plus Go runtime and process collectors, on
// a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ShardDownloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_downloads_total",
			Help:      "Shards downloaded from the object store",
		}),
		ShardDeletions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_deletions_total",
			Help:      "Obsolete shards removed from the local cache",
		}),
		ReconcileDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Cache reconciliation duration by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
		CachedShards: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_shards",
			Help:      "Shards in the current in-memory snapshot",
		}),
		QueryTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_tasks_total",
			Help:      "Proximity query tasks by outcome",
		}, []string{"outcome"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_batch_duration_seconds",
			Help:      "Proximity query batch duration",
			Buckets:   prometheus.DefBuckets,
		}),
		ScoredCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scored_candidates_total",
			Help:      "Candidates scored, by rank label",
		}, []string{"rank"}),
		IntegrityFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Candidates whose band counts failed the integrity check",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordReconcile records one reconciliation pass.
func (m *Metrics) RecordReconcile(d time.Duration, downloaded, deleted, cached int, err error) {
	if m == nil {
		return
	}
	m.ReconcileDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
	m.ShardDownloads.Add(float64(downloaded))
	m.ShardDeletions.Add(float64(deleted))
	if err == nil {
		m.CachedShards.Set(float64(cached))
	}
}

// SetCachedShards records the snapshot size after a load.
func (m *Metrics) SetCachedShards(n int) {
	if m == nil {
		return
	}
	m.CachedShards.Set(float64(n))
}

// RecordQueryTask records the outcome of one (zone, shard) task.
func (m *Metrics) RecordQueryTask(err error) {
	if m == nil {
		return
	}
	m.QueryTasks.WithLabelValues(outcome(err)).Inc()
}

// RecordQueryBatch records a whole query batch.
func (m *Metrics) RecordQueryBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(d.Seconds())
}

// RecordScored counts one scored candidate under its rank label.
func (m *Metrics) RecordScored(rank string, integrityFailed bool) {
	if m == nil {
		return
	}
	m.ScoredCandidates.WithLabelValues(rank).Inc()
	if integrityFailed {
		m.IntegrityFailures.Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
