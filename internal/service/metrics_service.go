package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gestion-judicial/casefile-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the case lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	casesCreated    *prometheus.CounterVec
	caseTransitions *prometheus.CounterVec
	assignments     prometheus.Counter
	deniedAttempts  *prometheus.CounterVec
	numberRetries   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	casesCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cases_created_total",
		Help: "Total cases filed",
	}, []string{"case_type"})

	caseTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "case_transitions_total",
		Help: "Total case status transitions",
	}, []string{"from", "to"})

	assignments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "case_assignments_total",
		Help: "Total judge assignments",
	})

	deniedAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_denied_total",
		Help: "Total denied authorization attempts",
	}, []string{"action"})

	numberRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "case_number_retries_total",
		Help: "Total case number allocation retries",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, casesCreated, caseTransitions, assignments, deniedAttempts, numberRetries, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		casesCreated:    casesCreated,
		caseTransitions: caseTransitions,
		assignments:     assignments,
		deniedAttempts:  deniedAttempts,
		numberRetries:   numberRetries,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCaseCreated counts a filed case.
func (m *MetricsService) RecordCaseCreated(caseType string) {
	if m == nil {
		return
	}
	m.casesCreated.WithLabelValues(caseType).Inc()
}

// RecordTransition counts a lifecycle transition.
func (m *MetricsService) RecordTransition(from, to models.CaseStatus) {
	if m == nil {
		return
	}
	m.caseTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordAssignment counts a judge assignment.
func (m *MetricsService) RecordAssignment() {
	if m == nil {
		return
	}
	m.assignments.Inc()
}

// RecordDenied counts a denied authorization attempt.
func (m *MetricsService) RecordDenied(action string) {
	if m == nil {
		return
	}
	m.deniedAttempts.WithLabelValues(action).Inc()
}

// RecordNumberRetry counts a case number allocation retry.
func (m *MetricsService) RecordNumberRetry() {
	if m == nil {
		return
	}
	m.numberRetries.Inc()
}
