package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SentTotal counts delivered messages by kind.
	SentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatheredge_notify_sent_total",
		Help: "Total number of alert messages delivered",
	}, []string{"kind"})

	// QueuedTotal counts lines queued for digests.
	QueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_notify_queued_total",
		Help: "Total number of alert lines queued",
	})

	// SendFailuresTotal counts sink delivery failures.
	SendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatheredge_notify_send_failures_total",
		Help: "Total number of failed alert deliveries",
	})
)
