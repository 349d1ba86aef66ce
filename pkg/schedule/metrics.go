package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDurationSeconds tracks tick latency per loop.
	TickDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weatheredge_loop_tick_duration_seconds",
		Help:    "Duration of pipeline ticks",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})

	// TickErrorsTotal tracks failed ticks per loop.
	TickErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_loop_tick_errors_total",
		Help: "Total number of failed pipeline ticks",
	}, []string{"loop"})

	// TicksSkippedTotal tracks ticks skipped because the previous tick was
	// still running.
	TicksSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_loop_ticks_skipped_total",
		Help: "Total number of skipped pipeline ticks",
	}, []string{"loop"})
)
