package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "torquesign"

var (
	logMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_messages_total",
			Help:      "Warn and error log calls, counted before sampling",
		},
		[]string{"level"},
	)

	httpResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	validations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "results_total",
			Help:      "Validation results by status and severity",
		},
		[]string{"status", "severity"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "active_sessions",
			Help:      "Sessions currently accepting readings",
		},
	)

	workflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow state changes by type and resulting status",
		},
		[]string{"type", "status"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber buffer was full",
		},
		[]string{"event"},
	)

	sinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_failures_total",
			Help:      "Failed deliveries to external sinks",
		},
		[]string{"sink"},
	)
)

// LogMessage counts a warn or error log call
func LogMessage(level string) {
	logMessages.WithLabelValues(level).Inc()
}

// ObserveHTTP records one served request
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpResponses.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func ObserveValidation(status, severity string) {
	validations.WithLabelValues(status, severity).Inc()
}

func SessionStarted() { activeSessions.Inc() }

func SessionEnded() { activeSessions.Dec() }

func WorkflowTransition(workflowType, status string) {
	workflowTransitions.WithLabelValues(workflowType, status).Inc()
}

func EventDropped(event string) {
	eventsDropped.WithLabelValues(event).Inc()
}

func SinkFailure(sink string) {
	sinkFailures.WithLabelValues(sink).Inc()
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
