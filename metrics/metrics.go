// Package metrics exposes Prometheus collectors for the HTTP surface and the
// ledger write loop on a private registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/pallet-ledger/ledger"
)

// Metrics holds the registry and every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	writesTotal         *prometheus.CounterVec
	writeAttempts       *prometheus.HistogramVec
	notificationsFailed *prometheus.CounterVec
	driftEntries        prometheus.Gauge
}

// New builds the registry. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_writes_total",
			Help: "Ledger snapshot writes by operation and result.",
		}, []string{"op", "result"}),
		writeAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_write_attempts",
			Help:    "Compare-and-swap attempts needed per ledger write.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"op"}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_notifications_failed_total",
			Help: "Notifications that could not be delivered or enqueued.",
		}, []string{"channel"}),
		driftEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_drift_entries",
			Help: "Stock cells whose live value differs from the history-derived value.",
		}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.writesTotal, m.writeAttempts, m.notificationsFailed, m.driftEntries,
	)
	if withRuntime {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

// =============================================================================
// HTTP
// =============================================================================

// Middleware records request count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

// =============================================================================
// LEDGER
// =============================================================================

// ObserveWrite implements ledger.Observer.
func (m *Metrics) ObserveWrite(op string, attempts int, err error) {
	m.writesTotal.WithLabelValues(op, writeResult(err)).Inc()
	m.writeAttempts.WithLabelValues(op).Observe(float64(attempts))
}

// ObserveNotification implements ledger.Observer.
func (m *Metrics) ObserveNotification(channel string, err error) {
	if err != nil {
		m.notificationsFailed.WithLabelValues(channel).Inc()
	}
}

// SetDrift records the size of the latest drift report.
func (m *Metrics) SetDrift(entries int) {
	m.driftEntries.Set(float64(entries))
}

func writeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ledger.ErrLockNotObtained):
		return "lock_timeout"
	default:
		return "error"
	}
}

var _ ledger.Observer = (*Metrics)(nil)
