// Package metrics exposes Prometheus collectors for the session and content
// planes. Collectors are registered on the default registry and served from
// the HTTP plane's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of non-expired sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharethings",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of active sessions.",
	})

	// ConnectedClients tracks open websocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharethings",
		Subsystem: "hub",
		Name:      "connected_clients",
		Help:      "Number of connected websocket clients.",
	})

	// EventsTotal counts ingress socket events by kind and outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "hub",
		Name:      "events_total",
		Help:      "Processed socket events by event kind and outcome.",
	}, []string{"event", "outcome"})

	// FanoutTotal counts messages fanned out to peers.
	FanoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "hub",
		Name:      "fanout_messages_total",
		Help:      "Messages broadcast to session peers.",
	})

	// FanoutDropped counts messages dropped because a peer's send queue
	// was full. Delivery is best effort; clients reconcile on rejoin.
	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "hub",
		Name:      "fanout_dropped_total",
		Help:      "Broadcast messages dropped due to slow peers.",
	})

	// ChunksStored counts persisted chunks.
	ChunksStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "store",
		Name:      "chunks_stored_total",
		Help:      "Encrypted chunks persisted.",
	})

	// BytesStored counts persisted ciphertext bytes.
	BytesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "store",
		Name:      "bytes_stored_total",
		Help:      "Ciphertext bytes persisted.",
	})

	// ContentEvicted counts content removed by retention cleanup.
	ContentEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "store",
		Name:      "content_evicted_total",
		Help:      "Content items removed by retention cleanup.",
	})

	// SessionsExpired counts sessions expired by the sweeper.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "sessions",
		Name:      "expired_total",
		Help:      "Sessions expired for inactivity.",
	})

	// DownloadsTotal counts large-file download requests by outcome.
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "download",
		Name:      "requests_total",
		Help:      "Large-file download requests by outcome.",
	}, []string{"outcome"})

	// DownloadBytes counts bytes streamed to download clients.
	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sharethings",
		Subsystem: "download",
		Name:      "bytes_total",
		Help:      "Bytes streamed over the download gateway.",
	})
)
