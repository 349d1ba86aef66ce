package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesEnteredTotal counts executed entries.
	TradesEnteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_executor_trades_entered_total",
		Help: "Total number of trades entered",
	}, []string{"venue", "side", "reason"})

	// EntriesRejectedTotal counts rejected candidates by gate.
	EntriesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_executor_entries_rejected_total",
		Help: "Total number of entry candidates rejected",
	}, []string{"reason"})
)
