package vision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_provider_requests_total",
			Help: "Total analysis requests dispatched to providers.",
		},
		[]string{"provider_id", "operation", "outcome"},
	)
	providerRequestLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_provider_request_latency_ms",
			Help:    "Provider analysis request latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"provider_id", "operation"},
	)
	providerFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_provider_fallbacks_total",
			Help: "Total times a failed provider caused the router to try the next candidate.",
		},
		[]string{"provider_id"},
	)
	providerHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vision_provider_healthy",
			Help: "Provider health status (1 healthy, 0 unhealthy).",
		},
		[]string{"provider_id"},
	)
	providerHealthLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_provider_health_check_latency_ms",
			Help:    "Provider health probe latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"provider_id"},
	)
)

func init() {
	prometheus.MustRegister(
		providerRequestsTotal,
		providerRequestLatencyMs,
		providerFallbacksTotal,
		providerHealthy,
		providerHealthLatencyMs,
	)
}

func observeProviderRequest(providerID, operation string, err error, latency time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	providerRequestsTotal.WithLabelValues(providerID, operation, outcome).Inc()
	providerRequestLatencyMs.WithLabelValues(providerID, operation).Observe(float64(latency.Milliseconds()))
}

func observeFallback(providerID string) {
	providerFallbacksTotal.WithLabelValues(providerID).Inc()
}

func observeProviderHealth(providerID string, healthy bool, latency time.Duration) {
	if healthy {
		providerHealthy.WithLabelValues(providerID).Set(1)
	} else {
		providerHealthy.WithLabelValues(providerID).Set(0)
	}
	if latency > 0 {
		providerHealthLatencyMs.WithLabelValues(providerID).Observe(float64(latency.Milliseconds()))
	}
}
