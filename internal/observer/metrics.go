package observer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FastTickDurationSeconds tracks fast-loop tick durations.
	FastTickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weatheredge_observer_fast_tick_duration_seconds",
		Help:    "Duration of fast observation ticks",
		Buckets: prometheus.DefBuckets,
	})

	// DetectionsTotal counts first threshold-crossing detections.
	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_observer_detections_total",
		Help: "Total number of first threshold-crossing detections",
	}, []string{"venue", "side"})

	// BatchFetchErrorsTotal counts aborted ticks from batch METAR failures.
	BatchFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_observer_batch_fetch_errors_total",
		Help: "Total number of failed batch METAR fetches",
	})

	// WUFetchErrorsTotal counts degraded crowd-provider fetches.
	WUFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_observer_wu_fetch_errors_total",
		Help: "Total number of failed crowd-observation fetches",
	})

	// ObservationRowsTotal counts persisted observation rows.
	ObservationRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_observer_observation_rows_total",
		Help: "Total number of observation rows written",
	})
)
