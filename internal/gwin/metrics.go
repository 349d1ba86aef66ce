package gwin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesTotal counts executed guaranteed-win entries.
	EntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_gwin_entries_total",
		Help: "Total number of guaranteed-win entries",
	}, []string{"venue", "reason"})

	// MissedCandidatesTotal counts settled candidates a filter turned away.
	MissedCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_gwin_missed_candidates_total",
		Help: "Total number of settled candidates rejected by entry filters",
	}, []string{"reason"})
)
