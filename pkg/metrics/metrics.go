package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewayd_projects_total",
			Help: "Total number of projects by state",
		},
		[]string{"state"},
	)

	TasksQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewayd_tasks_queued",
			Help: "Number of tasks currently queued, by shard",
		},
		[]string{"shard"},
	)

	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_tasks_processed_total",
			Help: "Total tasks processed by payload kind and outcome",
		},
		[]string{"payload", "outcome"},
	)

	TaskLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewayd_task_latency_seconds",
			Help:    "Time taken to process a task once dequeued",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"payload"},
	)

	StateTransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewayd_state_transition_duration_seconds",
			Help:    "Time taken to apply a single state transition",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"from_state"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_reconciliation_cycles_total",
			Help: "Total number of periodic refresh sweeps completed",
		},
	)

	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_proxy_requests_total",
			Help: "Total proxied requests by resolved project and result status",
		},
		[]string{"project", "status"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewayd_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"project"},
	)

	ResumeWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewayd_resume_wait_duration_seconds",
			Help:    "Time a proxied request waited for a stopped project to become ready",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
		},
	)

	CertificatesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_certificates_issued_total",
			Help: "Total ACME certificate issuances/renewals by outcome",
		},
		[]string{"outcome"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_api_requests_total",
			Help: "Total admin API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ProjectsTotal,
		TasksQueued,
		TasksProcessedTotal,
		TaskLatency,
		StateTransitionDuration,
		ReconciliationCyclesTotal,
		ProxyRequestsTotal,
		ProxyRequestDuration,
		ResumeWaitDuration,
		CertificatesIssuedTotal,
		APIRequestsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
