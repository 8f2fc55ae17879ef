// Package metrics exposes chatsync's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Inbound and local message events by outcome",
		},
		[]string{"type", "outcome"},
	)

	UnreadTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_unread_total",
			Help: "Unread messages charged to the tab title",
		},
	)

	TitleFlashes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_title_flashes_total",
			Help: "Times the title started flashing",
		},
	)

	DesktopNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_desktop_notifications_total",
			Help: "Desktop notification attempts",
		},
		[]string{"result"}, // "shown", "denied", "unsupported", "error"
	)

	CrossTabResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_crosstab_resets_total",
			Help: "Notification state resets",
		},
		[]string{"origin"}, // "local" or "remote"
	)

	// Infrastructure metrics
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_storage_errors_total",
			Help: "Shared storage failures",
		},
		[]string{"op"},
	)

	TransportMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_transport_messages_total",
			Help: "Frames received from the push transport",
		},
		[]string{"source", "result"}, // "delivered" or "malformed"
	)

	TransportReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_transport_reconnects_total",
			Help: "Push transport reconnect attempts",
		},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total control API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Control API request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)
)
