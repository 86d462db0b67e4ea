package index

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the indexer's prometheus instruments. Each Indexer owns its
// own set so several can coexist in one process.
type Metrics struct {
	RowsInserted   prometheus.Counter
	RowsDeleted    prometheus.Counter
	Flushes        *prometheus.CounterVec
	Queries        prometheus.Counter
	QueryCacheHits prometheus.Counter
	IndexDuration  *prometheus.HistogramVec
}

// NewMetrics creates unregistered instruments.
func NewMetrics() *Metrics {
	return &Metrics{
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlindex",
			Subsystem: "indexer",
			Name:      "rows_inserted",
			Help:      "Fragment rows written to the store",
		}),
		RowsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlindex",
			Subsystem: "indexer",
			Name:      "rows_deleted",
			Help:      "Stale fragment rows removed by reconciliation",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urlindex",
			Subsystem: "indexer",
			Name:      "flushes",
			Help:      "Debounced batches issued by the write coalescer",
		}, []string{"queue"}),
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlindex",
			Subsystem: "indexer",
			Name:      "queries",
			Help:      "Prefix queries served",
		}),
		QueryCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlindex",
			Subsystem: "indexer",
			Name:      "query_cache_hits",
			Help:      "Prefix queries answered from the result cache",
		}),
		IndexDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "urlindex",
			Subsystem: "indexer",
			Name:      "index_duration_seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
	}
}

// Collectors returns every instrument for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsInserted,
		m.RowsDeleted,
		m.Flushes,
		m.Queries,
		m.QueryCacheHits,
		m.IndexDuration,
	}
}
