package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the agent's dedicated metrics registry, exposed on /api/metrics.
var Registry = prometheus.NewRegistry()

var (
	// Custom histogram buckets covering fast local calls up to slow upstream round trips
	CustomAPIBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34}

	// Local HTTP API metrics
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: CustomAPIBuckets,
		},
		[]string{"http_request_method", "http_route", "http_response_status_code"},
	)

	HTTPRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"http_request_method", "http_route", "http_response_status_code"},
	)

	ActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"http_request_method"},
	)

	// Upstream school API metrics
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "School API request duration in seconds",
			Buckets: CustomAPIBuckets,
		},
		[]string{"operation", "status"},
	)

	UpstreamRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_request_total",
			Help: "Total number of school API requests",
		},
		[]string{"operation", "status"},
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Total number of access token refresh attempts",
		},
		[]string{"status"},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_name"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_name"},
	)

	// Business metrics
	QueueItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_queue_items",
			Help: "Number of pending review items currently held",
		},
	)

	RatingSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_submissions_total",
			Help: "Total number of rating submissions",
		},
		[]string{"status"},
	)

	PushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_events_total",
			Help: "Total number of push events handled by the receiver",
		},
		[]string{"event", "status"},
	)

	// Infrastructure metrics
	GoRoutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_runtime_go_goroutines",
			Help: "Number of goroutines",
		},
	)

	HeapAlloc = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_runtime_go_mem_heap_alloc_bytes",
			Help: "Heap allocated bytes",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		HTTPRequestTotal,
		ActiveRequests,
		UpstreamRequestDuration,
		UpstreamRequestTotal,
		TokenRefreshTotal,
		CacheHits,
		CacheMisses,
		QueueItems,
		RatingSubmissions,
		PushEvents,
		GoRoutines,
		HeapAlloc,
	)
}

// RecordInfrastructureMetrics collects infrastructure metrics periodically
func RecordInfrastructureMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		for range ticker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			GoRoutines.Set(float64(runtime.NumGoroutine()))
			HeapAlloc.Set(float64(m.HeapAlloc))
		}
	}()
}

// MeasureDuration measures the duration of an operation
func MeasureDuration(start time.Time) float64 {
	return time.Since(start).Seconds()
}
