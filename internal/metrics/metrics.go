// Package metrics exposes the Prometheus gauges and counters behind the
// /health contract and the broker bridge's observed counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BridgeReceived counts inbound broker messages, by topic family.
	BridgeReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "bridge",
		Name:      "received_total",
		Help:      "Messages received from the broker, by topic family.",
	}, []string{"topic"})

	// BridgePublished counts outbound broker publishes.
	BridgePublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "bridge",
		Name:      "published_total",
		Help:      "Messages published to the broker.",
	}, []string{"topic"})

	// BridgeFailed counts dropped/failed inbound messages.
	BridgeFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "bridge",
		Name:      "failed_total",
		Help:      "Inbound messages dropped due to malformed payload or deadline.",
	}, []string{"topic", "reason"})

	// BridgeFlushes counts publish-buffer flushes.
	BridgeFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "bridge",
		Name:      "flushes_total",
		Help:      "Publish buffer flush cycles.",
	})

	// BridgeCircuitOpen reports whether the publish circuit breaker is open (1) or closed (0).
	BridgeCircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "puretrack",
		Subsystem: "bridge",
		Name:      "circuit_breaker_open",
		Help:      "1 if the broker publish circuit breaker is open, else 0.",
	})

	// BridgeConnected reports broker connectivity (1 connected, 0 not).
	BridgeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "puretrack",
		Subsystem: "bridge",
		Name:      "connected",
		Help:      "1 if connected to the broker, else 0.",
	})

	// AlertsCreated counts new alerts by severity.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "alerts",
		Name:      "created_total",
		Help:      "Alerts created, by severity.",
	}, []string{"severity"})

	// RealtimeSessions reports the number of connected realtime sessions.
	RealtimeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "puretrack",
		Subsystem: "realtime",
		Name:      "sessions",
		Help:      "Connected realtime fanout sessions.",
	})

	// RealtimeDropped counts sessions dropped for a full backpressure queue.
	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "realtime",
		Name:      "sessions_dropped_total",
		Help:      "Sessions disconnected because their push queue filled.",
	})

	// ReportsBuilt counts completed/failed report builds.
	ReportsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "puretrack",
		Subsystem: "reports",
		Name:      "built_total",
		Help:      "Report build attempts, by outcome.",
	}, []string{"outcome"})
)
