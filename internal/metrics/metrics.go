package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_websocket_connections_active",
			Help: "Current number of live WebSocket sessions",
		},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_persisted_total",
			Help: "Messages accepted and stored, by conversation kind",
		},
		[]string{"kind"},
	)

	// result: ok | stale | error | dropped
	PushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_pushes_total",
			Help: "Events pushed to live sessions",
		},
		[]string{"channel", "result"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_status_transitions_total",
			Help: "Message status changes",
		},
		[]string{"status"},
	)

	// result: sent | failed | skipped
	WebPushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_webpush_total",
			Help: "Web push notifications to offline recipients",
		},
		[]string{"result"},
	)

	RouteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_route_latency_seconds",
			Help:    "Time from store append to the last live push of a message",
			Buckets: prometheus.DefBuckets,
		},
	)
)
