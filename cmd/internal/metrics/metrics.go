// Package metrics exposes Prometheus metrics for the id generator and the
// HTTP server on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "commune"

// Metrics owns the registry and every collector. It implements ids.Observer.
type Metrics struct {
	reg *prometheus.Registry

	idsIssued         prometheus.Counter
	sequenceExhausted prometheus.Counter
	clockRollbacks    *prometheus.CounterVec
	rollbackDrift     prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		idsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ids",
			Name:      "issued_total",
			Help:      "Identifiers issued by the generator.",
		}),
		sequenceExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ids",
			Name:      "sequence_exhausted_total",
			Help:      "Times the per-millisecond sequence overflowed and the generator waited for the next millisecond.",
		}),
		clockRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ids",
			Name:      "clock_rollbacks_total",
			Help:      "Backward clock steps seen by the generator, by outcome.",
		}, []string{"outcome"}),
		rollbackDrift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ids",
			Name:      "clock_rollback_drift_seconds",
			Help:      "Size of backward clock steps.",
			Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.idsIssued,
		m.sequenceExhausted,
		m.clockRollbacks,
		m.rollbackDrift,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) IDIssued() { m.idsIssued.Inc() }

func (m *Metrics) SequenceExhausted() { m.sequenceExhausted.Inc() }

func (m *Metrics) ClockRollback(drift time.Duration, tolerated bool) {
	outcome := "rejected"
	if tolerated {
		outcome = "waited"
	}
	m.clockRollbacks.WithLabelValues(outcome).Inc()
	m.rollbackDrift.Observe(drift.Seconds())
}

// Middleware records request count and latency. The route label is the
// ServeMux pattern that matched; handlers between here and the mux must pass
// the same *http.Request through.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
