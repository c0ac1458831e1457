package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, httpLatencyMs, rateLimitBlocks) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	httpLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_latency_ms",
			Help:    "HTTP handler latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
		[]string{"route"},
	)

	rateLimitBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_blocks_total",
			Help: "Requests rejected by the rate limiter, per route.",
		},
		[]string{"route"},
	)
)

func ObserveHTTP(route, method string, status int, latencyMs int64) {
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpLatencyMs.WithLabelValues(route).Observe(float64(latencyMs))
}

func IncRateLimitBlock(route string) {
	rateLimitBlocks.WithLabelValues(route).Inc()
}
