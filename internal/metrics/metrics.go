package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testmatrix_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Generation Metrics
	TestsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_tests_generated_total",
			Help: "Total number of generated tests",
		},
		[]string{"generator"},
	)

	TestsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_tests_skipped_total",
			Help: "Total number of generated tests marked as skipped",
		},
		[]string{"generator"},
	)

	DuplicateTestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "testmatrix_duplicate_tests_total",
			Help: "Total number of tests dropped because their classname was already generated",
		},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testmatrix_generation_duration_seconds",
			Help:    "Time spent in one generator",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		},
		[]string{"generator"},
	)

	GenerationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_generation_errors_total",
			Help: "Total number of definition defects hit during generation",
		},
		[]string{"generator"},
	)

	// Asset Metrics
	AssetsDiscovered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "testmatrix_assets_discovered",
			Help: "Number of assets in the registry",
		},
		[]string{"protocol"},
	)

	AssetsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_assets_rejected_total",
			Help: "Total number of candidate assets that could not be introspected",
		},
		[]string{"reason"},
	)

	DiscoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "testmatrix_discovery_duration_seconds",
			Help:    "Time spent populating the asset registry",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Port Metrics
	PortsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "testmatrix_ports_in_use",
			Help: "Number of ports reserved for companion servers",
		},
	)

	PortEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_port_events_total",
			Help: "Total number of port allocator events",
		},
		[]string{"event"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testmatrix_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testmatrix_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Dispatch Metrics
	TestsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "testmatrix_tests_dispatched_total",
			Help: "Total number of tests published to the runner queue",
		},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testmatrix_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordGeneration records the outcome of one generator
func RecordGeneration(generator string, produced, skipped int, duration float64) {
	TestsGeneratedTotal.WithLabelValues(generator).Add(float64(produced))
	TestsSkippedTotal.WithLabelValues(generator).Add(float64(skipped))
	GenerationDuration.WithLabelValues(generator).Observe(duration)
}

// RecordGenerationError records a definition defect
func RecordGenerationError(generator string) {
	GenerationErrorsTotal.WithLabelValues(generator).Inc()
}

// RecordDuplicates records dropped duplicate tests
func RecordDuplicates(n int) {
	DuplicateTestsTotal.Add(float64(n))
}

// UpdateAssetMetrics replaces the per-protocol asset counts
func UpdateAssetMetrics(byProtocol map[string]int) {
	AssetsDiscovered.Reset()
	for protocol, n := range byProtocol {
		AssetsDiscovered.WithLabelValues(protocol).Set(float64(n))
	}
}

// RecordAssetRejected records a candidate asset that was not registered
func RecordAssetRejected(reason string) {
	AssetsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDiscovery records how long asset discovery took
func RecordDiscovery(duration float64) {
	DiscoveryDuration.Observe(duration)
}

// RecordPortEvent is a ports.WithObserver callback
func RecordPortEvent(event string, port, inUse int) {
	PortEventsTotal.WithLabelValues(event).Inc()
	PortsInUse.Set(float64(inUse))
}

// RecordStorageOperation records storage operation metrics
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordDatabaseOperation records database operation metrics
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit/miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordDispatch records tests published to the runner queue
func RecordDispatch(n int) {
	TestsDispatchedTotal.Add(float64(n))
}

// RecordError records error metrics
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
