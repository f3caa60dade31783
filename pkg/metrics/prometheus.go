// Package metrics provides Prometheus metrics for the e-waste advisory service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Detection pipeline
	imagesProcessed   prometheus.Counter
	detectionsTotal   *prometheus.CounterVec
	processingLatency prometheus.Histogram
	advisoryMatches   *prometheus.CounterVec
	invalidDetections prometheus.Counter
	statsRecordErrors prometheus.Counter
	detectorLatency   prometheus.Histogram
	detectorErrors    *prometheus.CounterVec
	renderLatency     prometheus.Histogram
	renderErrors      prometheus.Counter
	storageOperations *prometheus.CounterVec
	storageErrors     *prometheus.CounterVec
	storageLatency    *prometheus.HistogramVec
	uploadBytes       prometheus.Histogram

	// Job queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueRejections  *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerActive     prometheus.Gauge
	workerJobLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide collectors

// customRegistry keeps the default Go collectors out of the exposition.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals

func init() { //nolint:gochecknoinits
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ewaste",
		subsystem:        "advisor",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      make(map[string]string),
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen
	m.imagesProcessed = m.counter("images_processed_total", "Images that completed detection, annotation and enrichment")
	m.detectionsTotal = m.counterVec("detections_total", "Detections reported by the detector, by raw category label", "category")
	m.processingLatency = m.histogram("processing_seconds", "End-to-end processing time per image in seconds", m.histogramBuckets)
	m.advisoryMatches = m.counterVec("advisory_matches_total", "Advisory lookups by table and outcome", "table", "outcome")
	m.invalidDetections = m.counter("invalid_detection_batches_total", "Detector batches rejected by validation")
	m.statsRecordErrors = m.counter("stats_record_errors_total", "Statistics updates that failed and were skipped")

	m.detectorLatency = m.histogram("detector_latency_seconds", "Latency of external detector calls in seconds", m.histogramBuckets)
	m.detectorErrors = m.counterVec("detector_errors_total", "Failed external detector calls by reason", "reason")

	m.renderLatency = m.histogram("render_latency_seconds", "Annotation rendering time in seconds", m.histogramBuckets)
	m.renderErrors = m.counter("render_errors_total", "Images that could not be decoded or encoded")

	m.storageOperations = m.counterVec("storage_operations_total", "Image store operations", "backend", "op")
	m.storageErrors = m.counterVec("storage_errors_total", "Image store failures", "backend", "op")
	m.storageLatency = m.histogramVec("storage_latency_seconds", "Image store latency in seconds", "backend", "op")
	m.uploadBytes = m.histogram("upload_bytes", "Size of accepted uploads in bytes",
		prometheus.ExponentialBuckets(16*1024, 4, 8))

	m.queueSize = m.gauge("queue_size", "Detection jobs waiting for a worker")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum number of waiting detection jobs")
	m.queueRejections = m.counterVec("queue_rejections_total", "Detection jobs rejected by the queue", "reason")
	m.workerCount = m.gauge("worker_count", "Configured detection workers")
	m.workerActive = m.gauge("worker_active", "Workers currently processing a job")
	m.workerJobLatency = m.histogram("worker_job_seconds", "Time a worker spent on one job in seconds", m.histogramBuckets)

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_seconds", "HTTP request duration in seconds", "endpoint", "method", "status_code")
	m.errorsByEndpoint = m.counterVec("http_errors_total", "HTTP error responses by endpoint and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds", m.histogramBuckets)
}

// RefreshInterval is how often periodic gauges should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Detection pipeline.

func RecordImageProcessed(elapsed time.Duration) {
	globalManager.imagesProcessed.Inc()
	globalManager.processingLatency.Observe(elapsed.Seconds())
}

func RecordDetection(category string) { globalManager.detectionsTotal.WithLabelValues(category).Inc() }

func RecordAdvisoryMatch(table string, matched bool) {
	outcome := "miss"
	if matched {
		outcome = "hit"
	}
	globalManager.advisoryMatches.WithLabelValues(table, outcome).Inc()
}

func RecordInvalidDetectionBatch() { globalManager.invalidDetections.Inc() }
func RecordStatsRecordError()      { globalManager.statsRecordErrors.Inc() }

func RecordDetectorLatency(d time.Duration) { globalManager.detectorLatency.Observe(d.Seconds()) }
func RecordDetectorError(reason string)     { globalManager.detectorErrors.WithLabelValues(reason).Inc() }

func RecordRenderLatency(d time.Duration) { globalManager.renderLatency.Observe(d.Seconds()) }
func RecordRenderError()                  { globalManager.renderErrors.Inc() }

func RecordStorageOperation(backend, op string, d time.Duration, err error) {
	globalManager.storageOperations.WithLabelValues(backend, op).Inc()
	globalManager.storageLatency.WithLabelValues(backend, op).Observe(d.Seconds())
	if err != nil {
		globalManager.storageErrors.WithLabelValues(backend, op).Inc()
	}
}

func RecordUploadBytes(n int) { globalManager.uploadBytes.Observe(float64(n)) }

// Queue and workers.

func UpdateQueueSize(size int)               { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)       { globalManager.queueCapacity.Set(float64(capacity)) }
func RecordQueueRejection(reason string)     { globalManager.queueRejections.WithLabelValues(reason).Inc() }
func UpdateWorkerCount(count int)            { globalManager.workerCount.Set(float64(count)) }
func IncWorkerActive()                       { globalManager.workerActive.Inc() }
func DecWorkerActive()                       { globalManager.workerActive.Dec() }
func RecordWorkerJobLatency(d time.Duration) { globalManager.workerJobLatency.Observe(d.Seconds()) }

// HTTP.

func RecordHTTPRequest(endpoint, method, statusCode string, d time.Duration) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(d.Seconds())
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

func UpdateSystemMemoryUsage(bytes uint64)    { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(count int)    { globalManager.systemGoroutineCount.Set(float64(count)) }
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry backing the package-level collectors.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
