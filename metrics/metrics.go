// Package metrics holds the Prometheus instruments of the stream gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams counts open channel views
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_stream_active_streams",
		Help: "Number of open channel stream controllers",
	})

	// EventsTotal counts real-time events by type and whether they changed the raw list
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_events_total",
		Help: "Real-time events handled by type and result",
	}, []string{"event", "result"})

	// FetchesTotal counts history requests by operation and result
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_fetches_total",
		Help: "History fetches by operation and result",
	}, []string{"operation", "result"})

	// PaginationSuppressed counts pagination requests dropped because one was already running
	PaginationSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_pagination_suppressed_total",
		Help: "Pagination requests suppressed while another was in flight",
	}, []string{"direction"})

	// SessionsTotal counts websocket sessions by how they ended
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_sessions_total",
		Help: "Websocket sessions by outcome",
	}, []string{"outcome"})
)

// Result labels shared by the counters above.
const (
	ResultApplied = "applied"
	ResultIgnored = "ignored"
	ResultOK      = "ok"
	ResultError   = "error"
)
