package wsfeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksReceivedTotal tracks ticker updates received over the feed.
	TicksReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_wsfeed_ticks_received_total",
		Help: "Total number of ticker updates received",
	})

	// ReconnectsTotal tracks feed reconnects.
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_wsfeed_reconnects_total",
		Help: "Total number of websocket reconnects",
	})
)
