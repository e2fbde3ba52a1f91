package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_messages_received_total",
		Help: "Decoded inbound feed messages by type",
	}, []string{"type"})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_decode_errors_total",
		Help: "Inbound frames dropped because they could not be decoded",
	})
	HandlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_handler_failures_total",
		Help: "Handler invocations that returned an error or panicked",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_reconnect_attempts_total",
		Help: "Scheduled reconnects after a transport failure",
	})
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_connection_state",
		Help: "Current feed connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
	})
	SendDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_send_dropped_total",
		Help: "Outbound commands dropped because the feed was not connected",
	})
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_alerts_emitted_total",
		Help: "Zone breach alerts emitted by kind",
	}, []string{"kind"})
	LiveMarkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_live_markers",
		Help: "Marker handles currently held by the entity registry",
	})
	SnapshotRefreshErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_snapshot_refresh_errors_total",
		Help: "Failed zone snapshot refreshes",
	})
)
