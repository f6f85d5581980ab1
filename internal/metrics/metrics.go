package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	decisionsTotal        *prometheus.CounterVec
	rateLimitedTotal      *prometheus.CounterVec
	generationErrorsTotal *prometheus.CounterVec
	classifyConfidence    *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		decisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mode_router",
			Name:      "decisions_total",
			Help:      "Total number of routing decisions by outcome.",
		}, []string{"outcome", "reason", "mode"}),
		rateLimitedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mode_router",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		generationErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mode_router",
			Name:      "generation_errors_total",
			Help:      "Total number of non-success answers from the generation endpoint.",
		}, []string{"status"}),
		classifyConfidence: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mode_router",
			Name:      "classification_confidence",
			Help:      "Confidence distribution of mode classification.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95},
		}, []string{"mode"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func ObserveDecision(outcome, reason, mode string) {
	getMetrics().decisionsTotal.WithLabelValues(outcome, reason, mode).Inc()
}

func ObserveRateLimited(limiter string) {
	getMetrics().rateLimitedTotal.WithLabelValues(limiter).Inc()
}

func ObserveGenerationError(status int) {
	getMetrics().generationErrorsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

func ObserveClassification(mode string, confidence float64) {
	getMetrics().classifyConfidence.WithLabelValues(mode).Observe(confidence)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
