// Package metrics provides Prometheus metrics for the stablezoo service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Relay
	relayRecords      *prometheus.CounterVec
	relayFetchErrors  prometheus.Counter
	relayAckErrors    prometheus.Counter
	relayBackoff      prometheus.Gauge
	relayBatchLatency prometheus.Histogram
	upstreamConnected prometheus.Gauge

	// Hub
	connections      prometheus.Gauge
	connectionEvents *prometheus.CounterVec
	broadcasts       prometheus.Counter
	fanout           prometheus.Counter
	droppedOldest    *prometheus.CounterVec

	// Sessions
	sessionsActive   prometheus.Gauge
	sessionsStarted  prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	eventsAccepted   prometheus.Counter
	eventsRejected   *prometheus.CounterVec
	sessionsBanned   prometheus.Counter
	scoreUpdatesSent prometheus.Counter

	// Leaderboard
	leaderboardEntries      prometheus.Gauge
	leaderboardUpserts      *prometheus.CounterVec
	leaderboardQueryLatency prometheus.Histogram
	snapshotRebuilds        prometheus.Counter
	persistErrors           prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	memoryBytes prometheus.Gauge
	goroutines  prometheus.Gauge
	gcPause     prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by package-level helpers

// Custom registry to avoid the default Go collectors.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // shared by /healthz

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "stablezoo",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(subsystem, name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(subsystem, name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(subsystem, name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.relayRecords = m.counterVec("relay", "records_total",
		"Upstream records handled by the relay by outcome (relayed, malformed, duplicate, refused)", "outcome")
	m.relayFetchErrors = m.counter("relay", "fetch_errors_total", "Failed upstream fetches")
	m.relayAckErrors = m.counter("relay", "ack_errors_total", "Failed upstream acknowledgements")
	m.relayBackoff = m.gauge("relay", "backoff_seconds", "Current retry backoff delay")
	m.relayBatchLatency = m.histogram("relay", "batch_duration_seconds", "Time to relay and acknowledge one batch")
	m.upstreamConnected = m.gauge("relay", "upstream_connected", "1 when the upstream connection is up")

	m.connections = m.gauge("hub", "connections", "Currently registered websocket connections")
	m.connectionEvents = m.counterVec("hub", "connection_events_total",
		"Connection lifecycle events (registered, unregistered, rejected)", "event")
	m.broadcasts = m.counter("hub", "broadcasts_total", "Stream events broadcast to the hub")
	m.fanout = m.counter("hub", "fanout_messages_total", "Messages enqueued to connection outboxes")
	m.droppedOldest = m.counterVec("hub", "dropped_oldest_total",
		"Messages dropped from a full connection outbox", "queue")

	m.sessionsActive = m.gauge("session", "active", "Active gameplay sessions")
	m.sessionsStarted = m.counter("session", "started_total", "Sessions started")
	m.sessionsEnded = m.counterVec("session", "ended_total",
		"Sessions ended by cause (died, disconnect, idle, banned)", "cause")
	m.eventsAccepted = m.counter("session", "events_accepted_total", "AnimalEaten events accepted")
	m.eventsRejected = m.counterVec("session", "events_rejected_total", "Rejected client events by reason", "reason")
	m.sessionsBanned = m.counter("session", "banned_total", "Sessions banned for suspicious activity")
	m.scoreUpdatesSent = m.counter("session", "score_updates_total", "ScoreUpdated messages sent")

	m.leaderboardEntries = m.gauge("leaderboard", "entries", "Players on the leaderboard")
	m.leaderboardUpserts = m.counterVec("leaderboard", "upserts_total",
		"Leaderboard upserts by result (improved, unchanged)", "result")
	m.leaderboardQueryLatency = m.histogram("leaderboard", "query_duration_seconds", "Leaderboard read latency")
	m.snapshotRebuilds = m.counter("leaderboard", "snapshot_rebuilds_total", "Read snapshot rebuilds")
	m.persistErrors = m.counter("leaderboard", "persist_errors_total", "Failed leaderboard persistence writes")

	m.httpRequests = m.counterVec("http", "requests_total", "HTTP requests by endpoint, method and status",
		"endpoint", "method", "status")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request latency", ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})

	m.memoryBytes = m.gauge("system", "memory_alloc_bytes", "Heap bytes allocated")
	m.goroutines = m.gauge("system", "goroutines", "Running goroutines")
	m.gcPause = m.gauge("system", "gc_pause_avg_ms", "Average GC pause in milliseconds")
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Relay

func RecordRelayOutcome(outcome string)       { globalManager.relayRecords.WithLabelValues(outcome).Inc() }
func RecordRelayFetchError()                  { globalManager.relayFetchErrors.Inc() }
func RecordRelayAckError()                    { globalManager.relayAckErrors.Inc() }
func UpdateRelayBackoff(seconds float64)      { globalManager.relayBackoff.Set(seconds) }
func RecordRelayBatchLatency(seconds float64) { globalManager.relayBatchLatency.Observe(seconds) }
func UpdateUpstreamConnected(up bool)         { globalManager.upstreamConnected.Set(boolGauge(up)) }

// Hub

func UpdateConnections(n int)            { globalManager.connections.Set(float64(n)) }
func RecordConnectionEvent(event string) { globalManager.connectionEvents.WithLabelValues(event).Inc() }
func RecordBroadcast(recipients int) {
	globalManager.broadcasts.Inc()
	globalManager.fanout.Add(float64(recipients))
}
func RecordDroppedOldest(queue string) { globalManager.droppedOldest.WithLabelValues(queue).Inc() }

// Sessions

func UpdateActiveSessions(n int)         { globalManager.sessionsActive.Set(float64(n)) }
func RecordSessionStarted()              { globalManager.sessionsStarted.Inc() }
func RecordSessionEnded(cause string)    { globalManager.sessionsEnded.WithLabelValues(cause).Inc() }
func RecordEventAccepted()               { globalManager.eventsAccepted.Inc() }
func RecordEventRejected(reason string)  { globalManager.eventsRejected.WithLabelValues(reason).Inc() }
func RecordSessionBanned()               { globalManager.sessionsBanned.Inc() }
func RecordScoreUpdateSent()             { globalManager.scoreUpdatesSent.Inc() }

// Leaderboard

func UpdateLeaderboardEntries(n int)            { globalManager.leaderboardEntries.Set(float64(n)) }
func RecordLeaderboardUpsert(improved bool) {
	result := "unchanged"
	if improved {
		result = "improved"
	}
	globalManager.leaderboardUpserts.WithLabelValues(result).Inc()
}
func RecordLeaderboardQueryLatency(seconds float64) { globalManager.leaderboardQueryLatency.Observe(seconds) }
func RecordSnapshotRebuild()                        { globalManager.snapshotRebuilds.Inc() }
func RecordPersistError()                           { globalManager.persistErrors.Inc() }

// HTTP

func RecordHTTPRequest(endpoint, method, status string, seconds float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(seconds)
}

// System

func UpdateSystemMemoryUsage(bytes uint64) { globalManager.memoryBytes.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(n int)    { globalManager.goroutines.Set(float64(n)) }
func UpdateSystemGCPause(ms float64)      { globalManager.gcPause.Set(ms) }

// GetRegistry returns the registry backing the package-level helpers.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
