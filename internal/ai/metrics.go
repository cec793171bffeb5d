package ai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_provider_requests_total",
			Help: "Total number of requests to the generation provider.",
		},
		[]string{"provider", "model", "operation", "status"},
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "continuity_provider_request_duration_seconds",
			Help:    "Histogram of generation provider request durations.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160, 300},
		},
		[]string{"provider", "model", "operation"},
	)
	providerTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "continuity_provider_tokens",
			Help:    "Histogram of prompt/completion token counts.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12), // 50 .. ~100k
		},
		[]string{"provider", "model", "kind"},
	)
	rateLimiterWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "continuity_provider_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the provider rate limiter.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func observeRequest(provider, model, operation, status string, seconds float64) {
	providerRequestsTotal.With(prometheus.Labels{"provider": provider, "model": model, "operation": operation, "status": status}).Inc()
	if status == "success" {
		providerRequestDuration.With(prometheus.Labels{"provider": provider, "model": model, "operation": operation}).Observe(seconds)
	}
}

func observeTokens(provider, model string, prompt, completion int) {
	if prompt > 0 {
		providerTokens.With(prometheus.Labels{"provider": provider, "model": model, "kind": "prompt"}).Observe(float64(prompt))
	}
	if completion > 0 {
		providerTokens.With(prometheus.Labels{"provider": provider, "model": model, "kind": "completion"}).Observe(float64(completion))
	}
}
