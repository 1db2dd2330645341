package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "searchgw",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "backend_requests_total",
		Help:      "Total requests to the catalog backend by endpoint and result status.",
	}, []string{"endpoint", "status"})

	BackendRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "searchgw",
		Name:      "backend_request_duration_seconds",
		Help:      "Catalog backend request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"endpoint"})

	StaleResponsesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "stale_responses_dropped_total",
		Help:      "Search or suggestion responses discarded by the request-id staleness guard.",
	})

	DuplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "duplicates_dropped_total",
		Help:      "Movie entries dropped by deduplication within or across pages.",
	})

	SearchesDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "searches_dispatched_total",
		Help:      "Search dispatches by trigger (submit, filter, more, debounce, restore).",
	}, []string{"trigger"})

	HistoryOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "history_operations_total",
		Help:      "History side-channel operations by kind and outcome.",
	}, []string{"op", "status"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "searchgw",
		Name:      "active_sessions",
		Help:      "Number of live search sessions.",
	})

	LastQueryCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchgw",
		Name:      "lastquery_cache_ops_total",
		Help:      "Last-query cache operations by kind and outcome.",
	}, []string{"op", "status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BackendRequestsTotal,
		BackendRequestDuration,
		StaleResponsesDropped,
		DuplicatesDropped,
		SearchesDispatched,
		HistoryOperations,
		ActiveSessions,
		LastQueryCacheHits,
	)
}
