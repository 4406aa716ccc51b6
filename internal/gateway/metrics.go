package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks webhook traffic and workflow outcomes. All metrics register
// with the default Prometheus registry and surface at /metrics.
type Metrics struct {
	// WebhookRequests counts webhook deliveries.
	// Labels: workflow, status_code
	WebhookRequests *prometheus.CounterVec

	// WebhookDuration measures end-to-end webhook handling in seconds.
	// Labels: workflow
	WebhookDuration *prometheus.HistogramVec

	// WorkflowSteps counts executed workflow steps by outcome.
	// Labels: workflow, status (success|error|skipped)
	WorkflowSteps *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		WebhookRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_webhook_requests_total",
				Help: "Total number of webhook requests by workflow and status code",
			},
			[]string{"workflow", "status_code"},
		),
		WebhookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valet_webhook_duration_seconds",
				Help:    "Duration of webhook handling in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"workflow"},
		),
		WorkflowSteps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valet_workflow_steps_total",
				Help: "Total number of workflow steps by workflow and outcome",
			},
			[]string{"workflow", "status"},
		),
	}
}
