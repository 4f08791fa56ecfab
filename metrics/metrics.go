// Package metrics collects Prometheus metrics for the HTTP layer and the
// billing engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/tuition-engine/billing"
)

const namespace = "tuition"

// Metrics owns a private registry. It implements billing.Recorder.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	periodsGenerated     *prometheus.CounterVec
	transactionsRecorded *prometheus.CounterVec
	transactionAmount    *prometheus.CounterVec
	seasonsClosed        prometheus.Counter
	writtenOff           prometheus.Counter
	schedulerRuns        *prometheus.CounterVec
}

var _ billing.Recorder = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		periodsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_generated_total",
			Help:      "Billing periods materialized, by school.",
		}, []string{"school_id"}),
		transactionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_recorded_total",
			Help:      "Transactions appended, by type.",
		}, []string{"type"}),
		transactionAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_amount_total",
			Help:      "Sum of recorded transaction amounts, by type.",
		}, []string{"type"}),
		seasonsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seasons_closed_total",
			Help:      "Season closures.",
		}),
		writtenOff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closure_write_off_amount_total",
			Help:      "Outstanding balance forgiven at season closure.",
		}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_pairs_total",
			Help:      "Period scheduler outcomes per (school, season) pair.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.periodsGenerated, m.transactionsRecorded, m.transactionAmount,
		m.seasonsClosed, m.writtenOff, m.schedulerRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
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

// Middleware records count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for callers with their own collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// =============================================================================
// billing.Recorder
// =============================================================================

func (m *Metrics) PeriodsGenerated(schoolID billing.SchoolID, count int) {
	m.periodsGenerated.WithLabelValues(string(schoolID)).Add(float64(count))
}

func (m *Metrics) TransactionRecorded(txType billing.TransactionType, amount billing.Money) {
	m.transactionsRecorded.WithLabelValues(string(txType)).Inc()
	m.transactionAmount.WithLabelValues(string(txType)).Add(amount.Value.InexactFloat64())
}

func (m *Metrics) SeasonClosed(writeOff billing.Money) {
	m.seasonsClosed.Inc()
	if writeOff.IsPositive() {
		m.writtenOff.Add(writeOff.Value.InexactFloat64())
	}
}

// SchedulerPair counts one scheduler attempt: "generated", "skipped" or "failed".
func (m *Metrics) SchedulerPair(outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(outcome).Inc()
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
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
