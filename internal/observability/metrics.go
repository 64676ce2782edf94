package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querychat_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_pipeline_requests_total",
			Help: "Chat requests by routed pipeline and outcome.",
		},
		[]string{"pipeline", "outcome"},
	)

	completionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querychat_completion_duration_seconds",
			Help:    "Completion backend call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	schemaRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_schema_refreshes_total",
			Help: "Schema context refresh attempts by result.",
		},
		[]string{"result"},
	)

	examplesAddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querychat_examples_added_total",
			Help: "Training examples accepted by dataset uploads.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		pipelineRequestsTotal,
		completionDurationSeconds,
		schemaRefreshesTotal,
		examplesAddedTotal,
	)
}

func ObservePipeline(pipeline, outcome string) {
	pipelineRequestsTotal.WithLabelValues(pipeline, outcome).Inc()
}

func ObserveCompletion(elapsed time.Duration) {
	completionDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveSchemaRefresh(result string) {
	schemaRefreshesTotal.WithLabelValues(result).Inc()
}

func AddExamplesAdded(count int) {
	if count > 0 {
		examplesAddedTotal.Add(float64(count))
	}
}
