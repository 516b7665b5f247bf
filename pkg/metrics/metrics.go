package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine RPC bridge metrics
var (
	// BridgeCalls counts completed engine calls by event type and outcome
	// (success, engine_error, timeout, canceled, transport_error, decode_error).
	BridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebus_bridge_calls_total",
			Help: "Total number of engine calls made through the RPC bridge",
		},
		[]string{"event_type", "outcome"},
	)

	BridgeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradebus_bridge_call_latency_seconds",
			Help:    "Time from command push to resolved engine response",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event_type"},
	)

	BridgeInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebus_bridge_calls_in_flight",
			Help: "Number of engine calls awaiting a response",
		},
	)

	// BridgeRetryExhausted counts caller-side retry loops that gave up
	BridgeRetryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebus_bridge_retry_exhausted_total",
			Help: "Engine calls that were still failing after the last retry attempt",
		},
		[]string{"event_type"},
	)
)

// Ingestion pipeline metrics
var (
	IngestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebus_ingest_messages_total",
			Help: "Messages read by the ingestion pipeline",
		},
		[]string{"topic", "event_type", "outcome"},
	)

	IngestRetryForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebus_ingest_retry_forwarded_total",
			Help: "Messages re-published to the retry topic after a handler failure",
		},
		[]string{"event_type"},
	)

	IngestMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebus_ingest_malformed_total",
			Help: "Messages that could not be decoded and were skipped",
		},
		[]string{"topic"},
	)

	IngestCommittedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebus_ingest_committed_offset",
			Help: "Last offset committed per topic partition",
		},
		[]string{"topic", "partition"},
	)

	IngestHandlerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradebus_ingest_handler_latency_seconds",
			Help:    "Latency of store mutations run by ingestion handlers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)
)

// Realtime fan-out metrics
var (
	StreamConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebus_stream_connections",
			Help: "Live client connections held by the fan-out service",
		},
	)

	StreamGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebus_stream_groups",
			Help: "Symbols with at least one subscribed connection",
		},
	)

	StreamDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradebus_stream_deliveries_total",
			Help: "Deltas queued for delivery to a client connection",
		},
	)

	// StreamDropped counts deltas that did not reach a client, by reason
	// (no_symbol, malformed, slow_client).
	StreamDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebus_stream_dropped_total",
			Help: "Deltas dropped by the fan-out service",
		},
		[]string{"reason"},
	)
)

// Database pool metrics, sampled by the db-processor
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebus_db_open_connections",
			Help: "Open connections in the database pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebus_db_idle_connections",
			Help: "Idle connections in the database pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebus_db_in_use_connections",
			Help: "Connections currently in use",
		},
		[]string{"db"},
	)
)

// Redis pool metrics, sampled per named client
var (
	// RedisPoolConns reports pool connections by state (total, idle, stale).
	RedisPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebus_redis_pool_connections",
			Help: "Connections in the Redis client pool",
		},
		[]string{"client", "state"},
	)

	RedisPoolTimeouts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebus_redis_pool_timeouts",
			Help: "Times a command waited longer than PoolTimeout for a connection since start",
		},
		[]string{"client"},
	)
)

func init() {
	prometheus.MustRegister(BridgeCalls, BridgeLatency, BridgeInFlight, BridgeRetryExhausted)
	prometheus.MustRegister(IngestMessages, IngestRetryForwarded, IngestMalformed, IngestCommittedOffset, IngestHandlerLatency)
	prometheus.MustRegister(StreamConnections, StreamGroups, StreamDeliveries, StreamDropped)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
	prometheus.MustRegister(RedisPoolConns, RedisPoolTimeouts)
}
