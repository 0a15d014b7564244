package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the counters an indexing run reports. They are registered on
// the registerer given to NewMetrics; a nil registerer keeps them private.
type Metrics struct {
	Runs               *prometheus.CounterVec
	FilesFailed        prometheus.Counter
	ReferencesResolved *prometheus.CounterVec
	ReferencesDropped  *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	StoreRetries       *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	IsolatedRatio      *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depgraph_index_runs_total",
			Help: "Indexing runs by outcome",
		}, []string{"outcome"}),
		FilesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "depgraph_index_files_failed_total",
			Help: "Files with at least one unit that could not be extracted",
		}),
		ReferencesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depgraph_references_resolved_total",
			Help: "Resolved references by deciding rule",
		}, []string{"rule"}),
		ReferencesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depgraph_references_unresolved_total",
			Help: "Unresolved references by reason",
		}, []string{"reason"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "depgraph_index_run_duration_seconds",
			Help:    "Duration of indexing runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		StoreRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depgraph_store_retries_total",
			Help: "Retried store writes by operation",
		}, []string{"op"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depgraph_extraction_cache_lookups_total",
			Help: "Extraction cache lookups by result",
		}, []string{"result"}),
		IsolatedRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depgraph_isolated_node_ratio",
			Help: "Isolated node ratio of the last run per repository",
		}, []string{"repository"}),
	}
}

// StoreRetryHook counts retries for storage.WithRetryHook.
func (m *Metrics) StoreRetryHook(op string, _ error) {
	m.StoreRetries.WithLabelValues(op).Inc()
}
