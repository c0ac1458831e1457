package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(cacheRequestsTotal, sessionsPurgedTotal, jobRunsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Session cache lookups by result.",
		},
		[]string{"cache", "result"}, // result=hit|miss
	)

	sessionsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_purged_total",
			Help: "Finished chat sessions removed by retention.",
		},
	)

	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Housekeeping job executions by outcome.",
		},
		[]string{"job", "result"}, // result=ok|error
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func AddSessionsPurged(n int64) {
	if n > 0 {
		sessionsPurgedTotal.Add(float64(n))
	}
}

func IncJobRun(job string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	jobRunsTotal.WithLabelValues(norm(job), result).Inc()
}
