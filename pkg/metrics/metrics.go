// Package metrics holds the Prometheus instruments served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsOpen tracks live WebSocket connections.
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatwire",
		Name:      "connections_open",
		Help:      "Number of open WebSocket connections.",
	})

	// EventsTotal counts outbound events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwire",
		Name:      "events_total",
		Help:      "Outbound events delivered to connection queues, by type.",
	}, []string{"type"})

	// CommandsTotal counts inbound commands by kind.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwire",
		Name:      "commands_total",
		Help:      "Inbound session commands, by kind.",
	}, []string{"kind"})

	// MessagesTotal counts durably appended messages.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwire",
		Name:      "messages_total",
		Help:      "Messages appended to session logs.",
	})

	// DroppedEventsTotal counts events dropped from full connection queues.
	DroppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwire",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a connection queue was full.",
	})

	// StoreErrorsTotal counts persistence failures surfaced to callers.
	StoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwire",
		Name:      "store_errors_total",
		Help:      "Persistence failures reported as transient store errors.",
	})

	// SessionTransitionsTotal counts lifecycle transitions by target status.
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwire",
		Name:      "session_transitions_total",
		Help:      "Session lifecycle transitions, by resulting status.",
	}, []string{"to"})
)
