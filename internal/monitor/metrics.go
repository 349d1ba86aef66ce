package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDurationSeconds tracks evaluator cycle durations.
	TickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weatheredge_monitor_tick_duration_seconds",
		Help:    "Duration of exit-evaluator cycles",
		Buckets: prometheus.DefBuckets,
	})

	// SignalsTotal counts evaluator verdicts by signal and recommendation.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_monitor_signals_total",
		Help: "Total number of evaluator verdicts",
	}, []string{"signal", "recommendation"})

	// ExitsTotal counts executed exits and in-place resolutions.
	ExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_monitor_exits_total",
		Help: "Total number of exits and guaranteed resolutions",
	}, []string{"signal"})

	// CalibrationOverridesTotal counts edge_gone exits cancelled by the
	// market-calibration override.
	CalibrationOverridesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_monitor_calibration_overrides_total",
		Help: "Total number of calibration-confirmed holds",
	})
)
