package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered on the default registry by promauto.

var (
	// IndexInsertsTotal counts records inserted into an in-memory graph,
	// labeled by index name and outcome (inserted, skipped, replaced, failed).
	IndexInsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_index_inserts_total",
			Help: "Total number of records submitted to an HNSW index",
		},
		[]string{"index_name", "outcome"},
	)

	// IndexNodes tracks the number of nodes in an in-memory graph.
	IndexNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorgraph_index_nodes",
			Help: "Number of nodes in an HNSW index",
		},
		[]string{"index_name"},
	)

	// SearchDuration measures k-NN query latency, from microseconds (small
	// in-memory graphs) to seconds (cold store-backed graphs).
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorgraph_search_duration_seconds",
			Help:    "Duration of k-NN searches in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)

	// PersistOperationsTotal counts store operations issued by export and load.
	PersistOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_persist_operations_total",
			Help: "Total number of entity/relationship store operations issued by the persistence adapter",
		},
		[]string{"operation"},
	)

	// NodeCacheLookups counts lazy graph cache lookups, labeled hit or miss.
	NodeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_node_cache_lookups_total",
			Help: "Lookups in the store-backed graph node cache",
		},
		[]string{"result"},
	)
)
