// Package telemetry provides observability primitives for the Warden engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	StrategyDuration   *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	OfflineResponses   *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	FetchErrors        prometheus.Counter
	InstallsTotal      *prometheus.CounterVec
	StoresDeleted      prometheus.Counter
	RetryQueueDepth    prometheus.Gauge
	RetryReplayed      *prometheus.CounterVec
	RetryDropped       prometheus.Counter
	NotificationsShown prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "requests_total",
			Help:      "Total intercepted requests.",
		}, []string{"policy", "outcome"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests served.",
		}, []string{"method", "route", "status"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "http_request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "route"}),

		StrategyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "strategy_duration_seconds",
			Help:                            "Strategy execution duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"strategy"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_requests",
			Help:      "Number of intercepted requests currently in flight.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cache_hits_total",
			Help:      "Total cache store hits.",
		}, []string{"strategy"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cache_misses_total",
			Help:      "Total cache store misses.",
		}, []string{"strategy"}),

		OfflineResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "offline_responses_total",
			Help:      "Total synthetic offline responses returned to callers.",
		}, []string{"strategy"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "fetch_duration_seconds",
			Help:                            "Upstream fetch duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"host"}),

		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "fetch_errors_total",
			Help:      "Total upstream transport errors.",
		}),

		InstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "installs_total",
			Help:      "Total install attempts by result.",
		}, []string{"result"}),

		StoresDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "stores_deleted_total",
			Help:      "Total cache stores deleted by version activation.",
		}),

		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "retry_queue_depth",
			Help:      "Number of tasks currently queued for background retry.",
		}),

		RetryReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "retry_replayed_total",
			Help:      "Total retry task replays by result.",
		}, []string{"result"}),

		RetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "retry_dropped_total",
			Help:      "Total retry tasks dropped after exhausting attempts.",
		}),

		NotificationsShown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "notifications_shown_total",
			Help:      "Total push notifications rendered.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.HTTPRequestsTotal,
		m.HTTPDuration,
		m.StrategyDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.OfflineResponses,
		m.FetchDuration,
		m.FetchErrors,
		m.InstallsTotal,
		m.StoresDeleted,
		m.RetryQueueDepth,
		m.RetryReplayed,
		m.RetryDropped,
		m.NotificationsShown,
	)

	return m
}
