package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query and index Prometheus metrics.
var (
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "searches_total",
			Help:      "Total search requests",
		},
		[]string{"status"},
	)

	DetectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zoomdex",
			Name:      "detect_duration_seconds",
			Help:      "Detection pipeline duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	DetectCandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "detect_candidates_total",
			Help:      "Detection candidates by pipeline outcome",
		},
		[]string{"outcome"}, // "kept" / "suppressed" / "below_threshold" / "out_of_bounds" / "failed"
	)

	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "result_cache_total",
			Help:      "Query result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "classifications_total",
			Help:      "Total classification requests",
		},
		[]string{"result"}, // "ok" / "fallback"
	)

	IndexBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "index_builds_total",
			Help:      "Total index builds",
		},
		[]string{"status"},
	)

	IndexBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zoomdex",
			Name:      "index_build_duration_seconds",
			Help:      "Index build duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	IndexedVectors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zoomdex",
			Name:      "indexed_vectors",
			Help:      "Vectors currently served per dataset index",
		},
		[]string{"dataset"},
	)
)

var queryMetricsRegistered bool

// RegisterQueryMetrics registers Prometheus query metrics. Must be called once from main.
func RegisterQueryMetrics() {
	if queryMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(DetectDuration)
	prometheus.MustRegister(DetectCandidatesTotal)
	prometheus.MustRegister(ResultCacheTotal)
	prometheus.MustRegister(ClassificationsTotal)
	prometheus.MustRegister(IndexBuildsTotal)
	prometheus.MustRegister(IndexBuildDuration)
	prometheus.MustRegister(IndexedVectors)
	queryMetricsRegistered = true
}
