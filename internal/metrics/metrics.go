// Package metrics exposes Prometheus instrumentation for the session pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no source ids or message ids.
var (
	SessionStartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveassist_session_starts_total",
		Help: "Total number of session start requests accepted by the coordinator.",
	})

	SessionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveassist_session_failures_total",
		Help: "Total number of sessions that ended in the failed state, by error kind.",
	}, []string{"kind"})

	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liveassist_session_state",
		Help: "1 for the coordinator's current state, 0 otherwise.",
	}, []string{"state"})

	ChunksSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveassist_capture_chunks_sent_total",
		Help: "Total number of encoded media chunks handed to the transport.",
	})

	ChunkBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveassist_capture_chunk_bytes_total",
		Help: "Total bytes of encoded media handed to the transport.",
	})

	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveassist_transport_frames_received_total",
		Help: "Total number of inbound backend frames, by kind.",
	}, []string{"kind"})

	TransportStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveassist_transport_status_transitions_total",
		Help: "Total number of transport status transitions, by target status.",
	}, []string{"status"})
)

var knownStates = []string{
	"idle",
	"connecting",
	"awaiting_capture_start",
	"active",
	"stopping",
	"failed",
}

// SetState marks state as the only active value of the state gauge.
func SetState(state string) {
	for _, s := range knownStates {
		value := 0.0
		if s == state {
			value = 1
		}
		SessionState.WithLabelValues(s).Set(value)
	}
}
