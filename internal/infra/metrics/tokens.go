package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		tokenChecksTotal,
		tokenInputTokens,
		tokenUtilization,
		tokenTrimsTotal,
		tokenizerFallbacks,
	)
}

var (
	tokenChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_checks_total",
			Help: "Context window checks per model and outcome.",
		},
		[]string{"model", "within_limits"},
	)

	tokenInputTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "token_input_tokens",
			Help:    "Counted prompt tokens per check.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 12),
		},
		[]string{"model"},
	)

	tokenUtilization = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "token_context_utilization_percent",
			Help:    "Share of the context window used by input plus reserved output.",
			Buckets: []float64{5, 10, 25, 50, 75, 90, 100, 150},
		},
		[]string{"model"},
	)

	tokenTrimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_trims_total",
			Help: "Histories trimmed to fit, by model and whether the newest message was truncated.",
		},
		[]string{"model", "truncated"},
	)

	tokenizerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenizer_fallbacks_total",
			Help: "Token counts that fell back to the character estimate.",
		},
		[]string{"model"},
	)
)

func ObserveTokenCheck(model string, withinLimits bool, inputTokens int, utilizationPct float64) {
	m := norm(model)
	tokenChecksTotal.WithLabelValues(m, strconv.FormatBool(withinLimits)).Inc()
	tokenInputTokens.WithLabelValues(m).Observe(float64(inputTokens))
	tokenUtilization.WithLabelValues(m).Observe(utilizationPct)
}

func IncTrim(model string, truncated bool) {
	tokenTrimsTotal.WithLabelValues(norm(model), strconv.FormatBool(truncated)).Inc()
}

func IncTokenizerFallback(model string) {
	tokenizerFallbacks.WithLabelValues(norm(model)).Inc()
}
