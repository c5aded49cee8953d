// Package observability records service-wide metrics. Init must run once at
// startup; before that every helper is a no-op so library code never has to
// check whether metrics are wired.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu      sync.Mutex
	enabled bool

	httpRequestsTotal  *prometheus.CounterVec
	httpDurationSecs   *prometheus.HistogramVec
	cacheOpTotal       *prometheus.CounterVec
	cacheOpDuration    *prometheus.HistogramVec
	cacheResults       *prometheus.CounterVec
	upstreamLatency    *prometheus.HistogramVec
	refreshCycleTotal  *prometheus.CounterVec
	refreshCycleSecs   *prometheus.HistogramVec
	historyAppendTotal *prometheus.CounterVec
)

// Init builds and registers all collectors. Passing enable=false leaves the
// package inert, which is the mode unit tests for other packages run in.
func Init(reg prometheus.Registerer, enable bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = enable
	if !enable || reg == nil {
		enabled = false
		return
	}

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDurationSecs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route", "status"},
	)
	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache operations by op and result.",
		},
		[]string{"op", "result"},
	)
	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)
	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"domain"},
	)
	refreshCycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_cycle_total",
			Help: "Completed refresh cycles by domain and whether history was persisted.",
		},
		[]string{"domain", "persisted"},
	)
	refreshCycleSecs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresh_cycle_duration_seconds",
			Help:    "Duration of full refresh cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"domain"},
	)
	historyAppendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_append_total",
			Help: "History store appends by driver and result.",
		},
		[]string{"driver", "result"},
	)

	reg.MustRegister(
		httpRequestsTotal, httpDurationSecs,
		cacheOpTotal, cacheOpDuration, cacheResults,
		upstreamLatency,
		refreshCycleTotal, refreshCycleSecs,
		historyAppendTotal,
	)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpDurationSecs.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled {
		return
	}
	cacheOpTotal.WithLabelValues(op, resultLabel(err)).Inc()
	cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if !enabled || n <= 0 {
		return
	}
	cacheResults.WithLabelValues("hit").Add(float64(n))
}

func AddCacheMisses(n int) {
	if !enabled || n <= 0 {
		return
	}
	cacheResults.WithLabelValues("miss").Add(float64(n))
}

func ObserveUpstreamLatency(domain string, durationSeconds float64) {
	if !enabled {
		return
	}
	upstreamLatency.WithLabelValues(domain).Observe(durationSeconds)
}

func ObserveRefreshCycle(domain string, persisted bool, durationSeconds float64) {
	if !enabled {
		return
	}
	refreshCycleTotal.WithLabelValues(domain, strconv.FormatBool(persisted)).Inc()
	refreshCycleSecs.WithLabelValues(domain).Observe(durationSeconds)
}

func ObserveHistoryAppend(driver string, err error) {
	if !enabled {
		return
	}
	historyAppendTotal.WithLabelValues(driver, resultLabel(err)).Inc()
}
