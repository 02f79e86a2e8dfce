// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// FramesTotal counts realtime frames by direction ("in", "out") and event type.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_total",
			Help: "Realtime frames relayed",
		},
		[]string{"direction", "type"},
	)

	// ErrorsTotal counts synthesized relay errors by origin.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_errors_total",
			Help: "Realtime relay errors by kind",
		},
		[]string{"kind"},
	)

	// UnhandledErrorsTotal counts errors emitted with no error listener attached.
	UnhandledErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_unhandled_errors_total",
			Help: "Realtime errors emitted without an error listener",
		},
	)

	// ListenerPanicsTotal counts recovered listener panics.
	ListenerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_listener_panics_total",
			Help: "Listener panics recovered during dispatch",
		},
		[]string{"channel"},
	)

	// ConnectionsActive tracks open realtime connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// DialDuration tracks realtime handshake latency.
	DialDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_dial_duration_seconds",
			Help:    "Realtime websocket handshake duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// NATSEventsPublished tracks envelopes written to JetStream.
	NATSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Relay envelopes published to NATS",
		},
		[]string{"status"},
	)

	// NATSConnectionEvents counts connection state changes ("disconnected",
	// "reconnected", "closed").
	NATSConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_connection_events_total",
			Help: "NATS connection state changes",
		},
		[]string{"event"},
	)

	// SessionsTotal tracks sessions opened per tenant.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_sessions_total",
			Help: "Total realtime sessions opened",
		},
		[]string{"tenant_id"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFrame counts one relayed frame.
func RecordFrame(direction, eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	FramesTotal.WithLabelValues(direction, eventType).Inc()
}

// RecordError counts one synthesized relay error.
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordDial records a handshake attempt.
func RecordDial(kind, status string, duration float64) {
	DialDuration.WithLabelValues(kind, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
