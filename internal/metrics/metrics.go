package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notionsync",
			Name:      "jobs_processed_total",
			Help:      "Sync jobs processed by terminal result.",
		},
		[]string{"result"},
	)

	webhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notionsync",
			Name:      "webhook_requests_total",
			Help:      "Inbound Notion webhook requests by outcome.",
		},
		[]string{"outcome"},
	)

	reverseSyncPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notionsync",
			Name:      "reverse_sync_pages_total",
			Help:      "Pages handled by the reconciliation pass.",
		},
		[]string{"table", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notionsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(jobsProcessed, webhookRequests, reverseSyncPages, httpRequests)
	})
}

// IncJob counts one processed job with its terminal result.
func IncJob(result string) {
	jobsProcessed.WithLabelValues(result).Inc()
}

// IncWebhook counts one webhook request by outcome.
func IncWebhook(outcome string) {
	webhookRequests.WithLabelValues(outcome).Inc()
}

// IncReverseSyncPage counts one page handled during a reconciliation pass.
func IncReverseSyncPage(table, result string) {
	reverseSyncPages.WithLabelValues(table, result).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
