package venue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutcomeListErrorsTotal counts failed outcome enumerations per venue.
	OutcomeListErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_venue_outcome_list_errors_total",
		Help: "Total number of failed outcome list calls",
	}, []string{"venue"})

	// OutcomeCacheHitsTotal counts outcome-list cache hits.
	OutcomeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_venue_outcome_cache_hits_total",
		Help: "Total number of outcome list cache hits",
	})

	// OutcomeCacheMissesTotal counts outcome-list cache misses.
	OutcomeCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_venue_outcome_cache_misses_total",
		Help: "Total number of outcome list cache misses",
	})

	// APIRequestsTotal counts venue API requests per venue and endpoint.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_venue_api_requests_total",
		Help: "Total number of venue API requests",
	}, []string{"venue", "endpoint"})
)
