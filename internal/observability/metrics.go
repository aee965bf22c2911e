package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for NextVibe.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Task pipeline metrics.
	TasksTotal           *prometheus.CounterVec // category x outcome
	TaskDuration         *prometheus.HistogramVec
	AdmissionDenials     prometheus.Counter
	BusyRejections       prometheus.Counter
	ClassificationsTotal *prometheus.CounterVec // category x strategy

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	// Transcription metrics.
	TranscriptionsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	InFlightTasks prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Total tasks processed, by category and outcome.",
		}, []string{"category", "outcome"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nextvibe",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "End-to-end task processing duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"category"}),

		AdmissionDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "ratelimit",
			Name:      "denials_total",
			Help:      "Total requests denied by admission control.",
		}),

		BusyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "router",
			Name:      "busy_rejections_total",
			Help:      "Total requests rejected because the identity had a task in flight.",
		}),

		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Total classifications, by resolved category and deciding strategy.",
		}, []string{"category", "strategy"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nextvibe",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions, by backend and classified status.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nextvibe",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"type"}),

		TranscriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "transcription",
			Name:      "requests_total",
			Help:      "Total voice transcription requests.",
		}, []string{"status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextvibe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nextvibe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		InFlightTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nextvibe",
			Name:      "in_flight_tasks",
			Help:      "Number of tasks currently being processed.",
		}),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.AdmissionDenials,
		m.BusyRejections,
		m.ClassificationsTotal,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.TranscriptionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InFlightTasks,
	)

	return m
}
