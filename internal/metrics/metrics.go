package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine Metrics
var (
	// StreamsActive tracks streams that currently hold in-memory analytics state
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_streams_active",
			Help: "Number of streams with live analytics state on this instance",
		},
	)

	// ViewersConnected tracks viewers present across all live streams
	ViewersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_viewers_connected",
			Help: "Viewers currently present across all live streams",
		},
	)

	// StreamEventsTotal tracks engine events by kind
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Total stream events processed by kind",
		},
		[]string{"kind"},
	)

	// StreamEventDuration tracks time spent inside a stream's serialized section
	StreamEventDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stream_event_duration_seconds",
			Help:    "Time to apply one event to a stream's state, including the snapshot broadcast",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// StreamActorPanics tracks recovered panics in stream actors
	StreamActorPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_actor_panics_total",
			Help: "Panics recovered while applying a stream event",
		},
	)
)

// Gateway Metrics
var (
	// StreamEventsDropped tracks inbound events that did not reach state
	StreamEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_dropped_total",
			Help: "Inbound events dropped by reason",
		},
		[]string{"reason"},
	)

	// WebSocketConnectionsCurrent tracks open gateway connections
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Open WebSocket connections",
		},
	)
)

// Store Metrics
var (
	// StoreErrorsTotal tracks failed durable-store calls by operation
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Failed durable store calls by operation",
		},
		[]string{"op"},
	)

	// JobsProcessedTotal tracks background jobs by type and outcome
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background jobs processed by type and status",
		},
		[]string{"type", "status"},
	)
)

// Redis Metrics
var (
	// RedisCircuitState tracks the Redis circuit breaker (0 closed, 1 half-open, 2 open)
	RedisCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_circuit_breaker_state",
			Help: "Redis circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
	)

	// RedisCircuitStateChanges tracks circuit breaker transitions by target state
	RedisCircuitStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_circuit_breaker_state_changes_total",
			Help: "Redis circuit breaker transitions by target state",
		},
		[]string{"to"},
	)
)
