package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "connections_active",
		Help:      "Number of registered streaming connections.",
	})

	controllersBound = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "controllers_bound",
		Help:      "Number of brewhouse controllers with a bound connection.",
	})

	subscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "subscriptions_active",
		Help:      "Number of (stream, connection) subscriptions.",
	})

	fanoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "fanout_total",
		Help:      "Fan-out outcomes per recipient, by result (delivered, suppressed, failed).",
	}, []string{"result"})

	backlogFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "backlog_frames_total",
		Help:      "Total backlog frames queued to subscribers.",
	})

	backlogDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "backlog_query_duration_seconds",
		Help:      "Backlog store query duration in seconds, including worker pool wait.",
		Buckets:   prometheus.DefBuckets,
	})
)
