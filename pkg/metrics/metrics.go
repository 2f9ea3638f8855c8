package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteRequests counts calls to the upstream market source by query kind
	// and outcome (success|rate_limited|error).
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinwatch_remote_requests_total",
			Help: "Total number of upstream market data requests",
		},
		[]string{"query", "result"},
	)

	// CacheHits counts market queries answered without a remote call, by
	// query kind and cache tier (memory|store).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinwatch_cache_hits_total",
			Help: "Total number of market queries served from cache",
		},
		[]string{"query", "tier"},
	)

	// RateLimitBackoffs counts rate-limit responses received from upstream.
	RateLimitBackoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coinwatch_rate_limit_backoffs_total",
			Help: "Total number of upstream rate-limit responses",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coinwatch_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
