package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_active_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	WebSocketConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_websocket_connections_total",
		Help: "Total number of WebSocket connections",
	})

	WebSocketDisconnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_websocket_disconnections_total",
		Help: "Total number of WebSocket disconnections",
	})

	ActiveCustomers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_active_customers",
		Help: "Number of active customers (0 or 1)",
	})

	ActiveSupporters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_active_supporters",
		Help: "Number of registered supporters",
	})

	NegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_negotiations_total",
		Help: "Endpoint negotiations by outcome",
	}, []string{"role", "result"}) // result: "accepted" | "rejected"

	NegotiationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "one2many_negotiation_seconds",
		Help:    "Time from start message to SDP answer",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"role"})

	QueuedICECandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_queued_ice_candidates",
		Help: "ICE candidates waiting for an endpoint",
	})

	ICECandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_ice_candidates_total",
		Help: "Total number of ICE candidates relayed",
	}, []string{"direction"}) // "in" | "out" | "queued" | "dropped"

	SignallingMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_signalling_messages_total",
		Help: "Total signalling messages",
	}, []string{"type", "direction"}) // direction: "in" | "out"

	MediaClientConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_media_client_connects_total",
		Help: "Attempts to acquire the media service handle",
	}, []string{"result"})

	MediaClientActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_media_client_active",
		Help: "1 while a media service handle is held",
	})

	MediaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_media_requests_total",
		Help: "Requests sent to the media service",
	}, []string{"method", "result"})

	MediaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "one2many_media_request_seconds",
		Help:    "Media service request round trip",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"method"})

	ActivePeerConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_sfu_active_peer_connections",
		Help: "Peer connections held by the in-process pipeline",
	})

	PeerConnectionStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_sfu_peer_connection_state_changes_total",
		Help: "Peer connection state changes in the in-process pipeline",
	}, []string{"state"})

	ActiveTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "one2many_sfu_active_tracks",
		Help: "Number of forwarded media tracks",
	}, []string{"type"})

	SFUBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sfu_bytes_received_total",
		Help: "Total bytes received by the in-process pipeline",
	})

	SFUBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sfu_bytes_sent_total",
		Help: "Total bytes sent by the in-process pipeline",
	})

	SFUPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sfu_packets_received_total",
		Help: "Total packets received by the in-process pipeline",
	})

	SFUPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sfu_packets_sent_total",
		Help: "Total packets sent by the in-process pipeline",
	})

	NACKRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sfu_nack_requests_total",
		Help: "Total NACK requests (indicates packet loss)",
	})

	PLIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sfu_pli_requests_total",
		Help: "Total PLI requests relayed to the broadcaster",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_config_reloads_total",
		Help: "Number of configuration reloads",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_start_time_seconds",
		Help: "Server start time in Unix seconds",
	})
)
