// Package metrics provides Prometheus metrics for the perception hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Hub metrics
	ratingsAccepted     prometheus.Counter
	ratingsRejected     *prometheus.CounterVec
	controlEvents       *prometheus.CounterVec
	broadcasts          *prometheus.CounterVec
	deliveries          prometheus.Counter
	slowClientsEvicted  prometheus.Counter
	aggregateLatency    prometheus.Histogram
	hubInboxSize        prometheus.Gauge
	hubHandlerPanics    prometheus.Counter
	historyTruncations  prometheus.Counter
	activeSessions      prometheus.Gauge
	activeConnections   prometheus.Gauge
	connectionsOpened   prometheus.Counter
	connectionsClosed   *prometheus.CounterVec
	handshakeRejections *prometheus.CounterVec

	// Archive pipeline metrics
	queueCapacity  prometheus.Gauge
	queueSize      prometheus.Gauge
	queueEnqueued  prometheus.Counter
	queueDropped   *prometheus.CounterVec
	workerCount    prometheus.Gauge
	archiveWrites  prometheus.Counter
	archiveErrors  prometheus.Counter
	archiveLatency prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "perception",
		subsystem:        "hub",
		histogramBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.ratingsAccepted = auto.NewCounter(m.counterOpts("ratings_accepted_total", "Rating events applied to a session"))
	m.ratingsRejected = auto.NewCounterVec(m.counterOpts("ratings_rejected_total", "Inbound frames dropped by validation"), []string{"reason"})
	m.controlEvents = auto.NewCounterVec(m.counterOpts("control_events_total", "Session control events relayed"), []string{"event"})
	m.broadcasts = auto.NewCounterVec(m.counterOpts("broadcasts_total", "Room broadcasts by outbound event"), []string{"event"})
	m.deliveries = auto.NewCounter(m.counterOpts("deliveries_total", "Frames handed to client send buffers"))
	m.slowClientsEvicted = auto.NewCounter(m.counterOpts("slow_clients_evicted_total", "Clients disconnected because their send buffer was full"))
	m.aggregateLatency = auto.NewHistogram(m.histogramOpts("aggregate_latency_milliseconds", "Time to apply a rating and compute its aggregate", m.histogramBuckets))
	m.hubInboxSize = auto.NewGauge(m.gaugeOpts("inbox_size", "Commands waiting in the hub inbox"))
	m.hubHandlerPanics = auto.NewCounter(m.counterOpts("handler_panics_total", "Recovered panics inside hub command handlers"))
	m.historyTruncations = auto.NewCounter(m.counterOpts("history_truncations_total", "Times a session history overflowed and was truncated"))
	m.activeSessions = auto.NewGauge(m.gaugeOpts("sessions", "Session channels currently tracked"))
	m.activeConnections = auto.NewGauge(m.gaugeOpts("connections", "Open client connections"))
	m.connectionsOpened = auto.NewCounter(m.counterOpts("connections_opened_total", "Client connections accepted"))
	m.connectionsClosed = auto.NewCounterVec(m.counterOpts("connections_closed_total", "Client connections closed by cause"), []string{"cause"})
	m.handshakeRejections = auto.NewCounterVec(m.counterOpts("handshake_rejections_total", "Websocket handshakes refused before upgrade"), []string{"reason"})

	m.queueCapacity = auto.NewGauge(m.gaugeOpts("archive_queue_capacity", "Capacity of the archive queue"))
	m.queueSize = auto.NewGauge(m.gaugeOpts("archive_queue_size", "Records waiting in the archive queue"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("archive_enqueued_total", "Records accepted by the archive queue"))
	m.queueDropped = auto.NewCounterVec(m.counterOpts("archive_dropped_total", "Records the archive queue refused"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("archive_workers", "Archive workers running"))
	m.archiveWrites = auto.NewCounter(m.counterOpts("archive_writes_total", "Records persisted to the archive store"))
	m.archiveErrors = auto.NewCounter(m.counterOpts("archive_errors_total", "Archive store write failures"))
	m.archiveLatency = auto.NewHistogram(m.histogramOpts("archive_write_latency_milliseconds", "Archive store write latency", prometheus.DefBuckets))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", prometheus.DefBuckets), []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Hub metrics.

// RecordRatingAccepted increments the accepted ratings counter.
func RecordRatingAccepted() { globalManager.ratingsAccepted.Inc() }

// RecordRatingRejected counts a dropped inbound frame by reason.
func RecordRatingRejected(reason string) { globalManager.ratingsRejected.WithLabelValues(reason).Inc() }

// RecordControlEvent counts a relayed session control event.
func RecordControlEvent(event string) { globalManager.controlEvents.WithLabelValues(event).Inc() }

// RecordBroadcast counts one room emit and the frames it delivered.
func RecordBroadcast(event string, delivered int) {
	globalManager.broadcasts.WithLabelValues(event).Inc()
	globalManager.deliveries.Add(float64(delivered))
}

// RecordSlowClientEvicted counts a client dropped for a full send buffer.
func RecordSlowClientEvicted() { globalManager.slowClientsEvicted.Inc() }

// RecordAggregateLatency records rating apply + aggregate latency in milliseconds.
func RecordAggregateLatency(latencyMs float64) { globalManager.aggregateLatency.Observe(latencyMs) }

// UpdateHubInboxSize sets the number of pending hub commands.
func UpdateHubInboxSize(size int) { globalManager.hubInboxSize.Set(float64(size)) }

// RecordHandlerPanic counts a recovered hub handler panic.
func RecordHandlerPanic() { globalManager.hubHandlerPanics.Inc() }

// RecordHistoryTruncation counts a history overflow.
func RecordHistoryTruncation() { globalManager.historyTruncations.Inc() }

// UpdateActiveSessions sets the tracked session count.
func UpdateActiveSessions(count int) { globalManager.activeSessions.Set(float64(count)) }

// UpdateActiveConnections sets the open connection count.
func UpdateActiveConnections(count int) { globalManager.activeConnections.Set(float64(count)) }

// RecordConnectionOpened counts an accepted connection.
func RecordConnectionOpened() { globalManager.connectionsOpened.Inc() }

// RecordConnectionClosed counts a closed connection by cause.
func RecordConnectionClosed(cause string) { globalManager.connectionsClosed.WithLabelValues(cause).Inc() }

// RecordHandshakeRejected counts a refused websocket handshake.
func RecordHandshakeRejected(reason string) {
	globalManager.handshakeRejections.WithLabelValues(reason).Inc()
}

// Archive pipeline metrics.

// UpdateQueueCapacity sets the archive queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueSize sets the current archive queue length.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// RecordQueueEnqueue counts an accepted archive record.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDropped counts a refused archive record.
func RecordQueueDropped(reason string) { globalManager.queueDropped.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the running archive worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordArchiveWrite records a successful archive write and its latency.
func RecordArchiveWrite(latencyMs float64) {
	globalManager.archiveWrites.Inc()
	globalManager.archiveLatency.Observe(latencyMs)
}

// RecordArchiveError counts a failed archive write.
func RecordArchiveError() { globalManager.archiveErrors.Inc() }

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System metrics.

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records the average GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
