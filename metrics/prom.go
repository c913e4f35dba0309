package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hastebin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hastebin_paste_fetched_total",
		Help: "no. of successful fetches (each one is a view)",
	})
	PasteNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hastebin_paste_not_found_total",
		Help: "no. of fetches for ids that do not exist",
	})
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hastebin_id_collisions_total",
		Help: "no. of drawn id candidates that were already taken",
	})
	IDFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hastebin_id_fallback_total",
		Help: "no. of allocations that exhausted the primary key space",
	})
	DuplicateInserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hastebin_duplicate_inserts_total",
		Help: "no. of inserts rejected because the id was taken concurrently",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hastebin_cache_hits_total",
			Help: "no. of cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hastebin_cache_misses_total",
			Help: "no. of cache misses",
		},
		[]string{"tier"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hastebin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hastebin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
