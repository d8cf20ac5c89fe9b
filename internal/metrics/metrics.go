// Package metrics exposes the Prometheus collectors shared by the bridge,
// hub and dispatcher. Served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pileup_udp_packets_received_total",
		Help: "UDP datagrams read from the socket.",
	})

	PacketsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pileup_udp_packets_parsed_total",
		Help: "Datagrams decoded to a QSO record.",
	})

	ParseMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pileup_udp_parse_misses_total",
		Help: "Datagrams with no usable record.",
	})

	PacketsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pileup_udp_packets_dropped_total",
		Help: "Datagrams dropped because the parse queue was full.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pileup_events_published_total",
		Help: "Broadcast envelopes published, by event type.",
	}, []string{"event_type"})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pileup_events_delivered_total",
		Help: "Per-connection event deliveries that reached the send buffer.",
	})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pileup_send_failures_total",
		Help: "Per-connection sends that failed and pruned the subscriber.",
	})

	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pileup_active_connections",
		Help: "Registered subscriber connections, by transport.",
	}, []string{"transport"})

	FramesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pileup_ws_frames_total",
		Help: "Inbound WebSocket frames, by kind.",
	}, []string{"kind"})

	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pileup_auth_attempts_total",
		Help: "Admin authentication attempts, by result.",
	}, []string{"result"})
)
