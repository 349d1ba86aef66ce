package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDurationSeconds tracks settlement cycle durations.
	TickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weatheredge_resolver_tick_duration_seconds",
		Help:    "Duration of resolver cycles",
		Buckets: prometheus.DefBuckets,
	})

	// TradesResolvedTotal counts settled trades by venue and outcome.
	TradesResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_resolver_trades_resolved_total",
		Help: "Total number of trades settled",
	}, []string{"venue", "outcome"})

	// OpportunitiesBackfilledTotal counts counterfactual backfills.
	OpportunitiesBackfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_resolver_opportunities_backfilled_total",
		Help: "Total number of opportunities backfilled with settled outcomes",
	})

	// HighFetchesTotal counts successful settlement-chain fetches per leg.
	HighFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_resolver_high_fetches_total",
		Help: "Total number of authoritative highs fetched, by chain leg",
	}, []string{"leg"})
)
