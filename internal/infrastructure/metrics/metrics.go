// Package metrics exposes Prometheus instrumentation for the ledger service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
)

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	entriesPosted    *prometheus.CounterVec
	entriesCancelled *prometheus.CounterVec
	lockAcquire      *prometheus.CounterVec
	lockWait         prometheus.Histogram
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

var _ ledger.Recorder = (*Metrics)(nil)

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		entriesPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlog_entries_posted_total",
			Help: "Ledger entries posted, by period.",
		}, []string{"period"}),
		entriesCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlog_entries_cancelled_total",
			Help: "Ledger entries cancelled, by period and scope (same_period, cross_period).",
		}, []string{"period", "scope"}),
		lockAcquire: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlog_lock_acquire_total",
			Help: "Period lock acquisitions by result (acquired, held, timeout, error).",
		}, []string{"result"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prodlog_lock_acquire_duration_seconds",
			Help:    "Time spent acquiring period locks.",
			Buckets: []float64{.005, .01, .05, .1, .3, 1, 3, 10, 30},
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlog_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prodlog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// EntryPosted implements ledger.Recorder.
func (m *Metrics) EntryPosted(period types.Period) {
	m.entriesPosted.WithLabelValues(period.Key()).Inc()
}

// EntryCancelled implements ledger.Recorder.
func (m *Metrics) EntryCancelled(period types.Period, crossPeriod bool) {
	scope := "same_period"
	if crossPeriod {
		scope = "cross_period"
	}
	m.entriesCancelled.WithLabelValues(period.Key(), scope).Inc()
}

// Middleware records per-request counters and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GinHandler wraps Handler for a gin route.
func (m *Metrics) GinHandler() gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}

// InstrumentLocks wraps a lock backend so that every acquisition is counted.
func (m *Metrics) InstrumentLocks(b lock.Backend) lock.Backend {
	return &instrumentedLocks{Backend: b, m: m}
}

type instrumentedLocks struct {
	lock.Backend
	m *Metrics
}

func (i *instrumentedLocks) Acquire(ctx context.Context, period types.Period) (*lock.Lock, error) {
	start := time.Now()
	l, err := i.Backend.Acquire(ctx, period)
	i.m.lockWait.Observe(time.Since(start).Seconds())

	result := "acquired"
	switch {
	case err == nil:
	case apperror.IsLockHeld(err):
		result = "held"
	case apperror.IsLockTimeout(err):
		result = "timeout"
	default:
		result = "error"
	}
	i.m.lockAcquire.WithLabelValues(result).Inc()
	return l, err
}
