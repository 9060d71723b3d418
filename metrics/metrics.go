package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage metrics
var (
	// AlertUpserts counts alert writes by outcome ("insert" or "update").
	AlertUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsec_alert_upserts_total",
		Help: "Total number of alert upserts by operation",
	}, []string{"operation"})

	// AlertStoreDuration tracks how long the alert upsert transaction takes.
	AlertStoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "advsec_alert_store_duration_seconds",
		Help:    "Duration of alert store transactions",
		Buckets: prometheus.DefBuckets,
	})
)

// Fetch metrics
var (
	// FetchRequests counts outbound API requests by endpoint.
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsec_fetch_requests_total",
		Help: "Total number of Advanced Security API requests",
	}, []string{"endpoint"})

	// FetchErrors counts failed outbound API requests by endpoint.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsec_fetch_errors_total",
		Help: "Total number of failed Advanced Security API requests",
	}, []string{"endpoint"})

	// AlertsCollected counts alerts collected per repository.
	AlertsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsec_alerts_collected_total",
		Help: "Total number of alerts collected by repository",
	}, []string{"repository"})
)

// Analysis metrics
var (
	// AnalysisQueries counts analysis report executions by report name.
	AnalysisQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsec_analysis_queries_total",
		Help: "Total number of analysis report executions",
	}, []string{"report"})

	// AnalysisQueryDuration tracks analysis query latency.
	AnalysisQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "advsec_analysis_query_duration_seconds",
		Help:    "Duration of analysis queries",
		Buckets: prometheus.DefBuckets,
	})
)
