package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts management API requests by method, route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records management API request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveries counts delivery attempts by event type and result
	// (delivered, retry_scheduled, exhausted, throttled).
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and result."},
		[]string{"event_type", "result"},
	)
	// WebhookLatency tracks outbound attempt latency in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "result"},
	)
	WebhookAutoDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_auto_disabled_total", Help: "Webhooks disabled by the failure threshold."},
	)
	WebhookJobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_jobs_enqueued_total", Help: "Delivery jobs enqueued by event type."},
		[]string{"event_type"},
	)
)

// RegisterDefault registers collectors to Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(WebhookAutoDisabled)
		Registry.MustRegister(WebhookJobsEnqueued)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
