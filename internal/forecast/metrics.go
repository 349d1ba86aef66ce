package forecast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal counts forecast cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_forecast_cache_hits_total",
		Help: "Total number of forecast cache hits",
	})

	// CacheMissesTotal counts forecast cache misses.
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_forecast_cache_misses_total",
		Help: "Total number of forecast cache misses",
	})

	// SourceErrorsTotal counts per-source fetch failures.
	SourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_forecast_source_errors_total",
		Help: "Total number of forecast source fetch failures",
	}, []string{"source"})
)
