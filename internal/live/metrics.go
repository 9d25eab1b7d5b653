package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	longpollWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "longpoll_waiters",
		Help:      "Number of parked long-poll requests, by registry.",
	}, []string{"registry"})

	measurementsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "measurements_recorded_total",
		Help:      "Measurements submitted for storage, by transport (ws, http) and result.",
	}, []string{"transport", "result"})

	recipeInstanceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "recipe_instance_events_total",
		Help:      "Recipe instance state changes, by event (launched, ended).",
	}, []string{"event"})

	wsFramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "joulia",
		Subsystem: "live",
		Name:      "ws_frames_received_total",
		Help:      "Inbound WebSocket frames, by kind (subscribe, unsubscribe, publish, invalid).",
	}, []string{"kind"})
)
