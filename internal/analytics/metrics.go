package analytics

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "analytics",
		Name:      "cache_hits_total",
		Help:      "Number of analytics requests served from the cached snapshot.",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "analytics",
		Name:      "cache_misses_total",
		Help:      "Number of analytics requests that triggered a recomputation.",
	})

	cacheExpiry = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "analytics",
		Name:      "cache_expiry_timestamp_seconds",
		Help:      "Unix timestamp at which the cached snapshot expires.",
	})

	computeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "analytics",
		Name:      "compute_duration_seconds",
		Help:      "Time spent computing an analytics snapshot.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	computeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "analytics",
		Name:      "compute_errors_total",
		Help:      "Number of analytics computations that failed.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheExpiry, computeDuration, computeErrors)
}
