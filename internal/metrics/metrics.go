// Package metrics 暴露任务与 HTTP 的 Prometheus 指标。所有方法对 nil 接收者安全。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docextract"

type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted    *prometheus.CounterVec
	tasksFinished     *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	tasksInFlight     prometheus.Gauge
	streamSubscribers prometheus.Gauge
	streamEvents      *prometheus.CounterVec
	inferenceRejected prometheus.Counter
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: registry,
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "task",
			Name:        "submitted_total",
			Help:        "Analysis tasks accepted, by template and mode.",
			ConstLabels: constLabels,
		}, []string{"template", "mode"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "task",
			Name:        "finished_total",
			Help:        "Analysis tasks that reached a terminal status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "task",
			Name:        "duration_seconds",
			Help:        "Time from submission to terminal status.",
			Buckets:     []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"status"}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "task",
			Name:        "in_flight",
			Help:        "Analysis tasks currently running.",
			ConstLabels: constLabels,
		}),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "stream",
			Name:        "subscribers",
			Help:        "Open SSE connections.",
			ConstLabels: constLabels,
		}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "stream",
			Name:        "events_total",
			Help:        "SSE events sent, by event type.",
			ConstLabels: constLabels,
		}, []string{"event"}),
		inferenceRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "inference",
			Name:        "rejected_total",
			Help:        "Tasks failed fast because the inference circuit breaker was open.",
			ConstLabels: constLabels,
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.tasksSubmitted, m.tasksFinished, m.taskDuration, m.tasksInFlight,
		m.streamSubscribers, m.streamEvents, m.inferenceRejected,
		m.requestTotal, m.requestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskSubmitted(template string, streaming bool) {
	if m == nil {
		return
	}
	mode := "sync"
	if streaming {
		mode = "stream"
	}
	m.tasksSubmitted.WithLabelValues(template, mode).Inc()
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksInFlight.Inc()
}

func (m *Metrics) TaskFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
	m.tasksFinished.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) InferenceRejected() {
	if m == nil {
		return
	}
	m.inferenceRejected.Inc()
}

func (m *Metrics) SubscriberAttached() {
	if m == nil {
		return
	}
	m.streamSubscribers.Inc()
}

func (m *Metrics) SubscriberDetached() {
	if m == nil {
		return
	}
	m.streamSubscribers.Dec()
}

func (m *Metrics) StreamEvent(event string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
