package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the billing
// engine: request metrics plus counters for the domain writes.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	snapshotsTotal  prometheus.Counter
	paymentsTotal   prometheus.Counter
	paymentAmounts  prometheus.Counter
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

	snapshotsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_snapshots_created_total",
		Help: "Total snapshot rows created by generation and backfill",
	})

	paymentsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_payments_recorded_total",
		Help: "Total payment transactions recorded",
	})

	paymentAmounts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_payments_amount_total",
		Help: "Sum of recorded payment amounts",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, snapshotsTotal, paymentsTotal, paymentAmounts, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		snapshotsTotal:  snapshotsTotal,
		paymentsTotal:   paymentsTotal,
		paymentAmounts:  paymentAmounts,
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

// RecordSnapshotsCreated counts snapshot rows written by generation or
// backfill.
func (m *MetricsService) RecordSnapshotsCreated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.snapshotsTotal.Add(float64(count))
}

// RecordPayment counts one recorded payment and its amount.
func (m *MetricsService) RecordPayment(amount float64) {
	if m == nil {
		return
	}
	m.paymentsTotal.Inc()
	if amount > 0 {
		m.paymentAmounts.Add(amount)
	}
}
