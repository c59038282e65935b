// Package metrics exports the operational side of §6's "Observable
// side effects" (§12 supplement): session/stream/broadcast gauges and
// counters for promhttp to serve. Grounded on
// RedClaus-cortex/apps/cortex-gateway/internal/metrics/metrics.go's
// package-level promauto.New*Vec convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_active_sessions",
		Help: "Number of sessions currently held in the process registry.",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_active_streams",
		Help: "Number of sessions with a stream currently in the streaming state.",
	})

	ConnectionsAttached = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_connections_attached",
		Help: "Number of connections currently attached across all sessions.",
	})

	ChatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_chat_requests_total",
		Help: "Total chat-request frames handled, by outcome.",
	}, []string{"outcome"})

	ChunksStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_chunks_stored_total",
		Help: "Total stream chunks appended to the Resumable Stream Log.",
	})

	ChunksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_chunks_dropped_total",
		Help: "Total oversized chunks dropped from the log (still broadcast live).",
	})

	BroadcastDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_broadcast_drops_total",
		Help: "Total frames dropped on send to a backpressured or closed connection.",
	})

	ToolRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_tool_retry_exhausted_total",
		Help: "Total tool-result/tool-approval frames dropped after exhausting the bounded retry.",
	})

	StaleStreamsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_stale_streams_deleted_total",
		Help: "Total streaming-status streams deleted on restore() for being past the stale threshold.",
	})
)
