// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Metrics collector
// =============================================================================

// Collector records process-level metrics for the HTTP surface and the
// analysis pipeline. Per-provider routing metrics live in the vision
// package next to the code that emits them.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Analysis metrics
	analysisTotal        *prometheus.CounterVec
	analysisDuration     *prometheus.HistogramVec
	analysisDetections   *prometheus.CounterVec
	analysisCost         *prometheus.CounterVec
	batchAssetsProcessed *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers all metric families under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP metrics
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Analysis metrics
	c.analysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Total number of analysis requests",
		},
		[]string{"provider", "operation", "status"},
	)

	c.analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Analysis duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "operation"},
	)

	c.analysisDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_detections_total",
			Help:      "Total number of detections returned",
		},
		[]string{"provider", "category"}, // category: objects, labels, text, faces, logos
	)

	c.analysisCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_cost_total",
			Help:      "Total estimated analysis cost in USD",
		},
		[]string{"provider"},
	)

	c.batchAssetsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_assets_processed_total",
			Help:      "Total number of assets processed through batch analysis",
		},
		[]string{"provider", "status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP metrics recording
// =============================================================================

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🎬 Analysis metrics recording
// =============================================================================

// RecordAnalysis records one completed analysis call.
func (c *Collector) RecordAnalysis(provider, operation, status string, duration time.Duration, cost float64) {
	c.analysisTotal.WithLabelValues(provider, operation, status).Inc()
	c.analysisDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
	if cost > 0 {
		c.analysisCost.WithLabelValues(provider).Add(cost)
	}
}

// RecordDetections records detection counts by category.
func (c *Collector) RecordDetections(provider, category string, count int) {
	if count > 0 {
		c.analysisDetections.WithLabelValues(provider, category).Add(float64(count))
	}
}

// RecordBatchAsset records one asset passing through batch analysis.
func (c *Collector) RecordBatchAsset(provider, status string) {
	c.batchAssetsProcessed.WithLabelValues(provider, status).Inc()
}

// =============================================================================
// 🔧 Helpers
// =============================================================================

// statusCode buckets an HTTP status into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
