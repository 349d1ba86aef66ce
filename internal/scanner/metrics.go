package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanDurationSeconds tracks full scan cycle durations.
	ScanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weatheredge_scanner_scan_duration_seconds",
		Help:    "Duration of full scan cycles",
		Buckets: prometheus.DefBuckets,
	})

	// OpportunitiesScoredTotal counts scored candidates.
	OpportunitiesScoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_scanner_opportunities_scored_total",
		Help: "Total number of scored entry candidates",
	}, []string{"venue", "side", "accepted"})
)
