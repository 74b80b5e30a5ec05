package metrics

import "github.com/prometheus/client_golang/prometheus"

// Tile and region-extraction Prometheus metrics.
var (
	TileCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "tile_cache_total",
			Help:      "Tile cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	TileFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "tile_fetches_total",
			Help:      "Total tiles fetched from backing storage",
		},
		[]string{"status"},
	)

	RegionExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "region_extractions_total",
			Help:      "Total region extractions",
		},
		[]string{"source", "status"}, // source: "asset" / "stitched"
	)

	StitchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zoomdex",
			Name:      "stitch_duration_seconds",
			Help:      "Tile stitching duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	ReconstructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoomdex",
			Name:      "reconstructions_total",
			Help:      "Total full-image reconstructions",
		},
		[]string{"status"},
	)
)

var tileMetricsRegistered bool

// RegisterTileMetrics registers Prometheus tile metrics. Must be called once from main.
func RegisterTileMetrics() {
	if tileMetricsRegistered {
		return
	}
	prometheus.MustRegister(TileCacheTotal)
	prometheus.MustRegister(TileFetchesTotal)
	prometheus.MustRegister(RegionExtractionsTotal)
	prometheus.MustRegister(StitchDuration)
	prometheus.MustRegister(ReconstructionsTotal)
	tileMetricsRegistered = true
}
