package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Entitlement metrics
	QuotaChecksTotal    *prometheus.CounterVec
	RemoteFetchDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Usage tracker metrics
	UsageEventsTotal   *prometheus.CounterVec
	UsageEventsDropped prometheus.Counter
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "framecraft"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		QuotaChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "quota_checks_total",
				Help:      "Total number of quota checks",
			},
			[]string{"action", "outcome"},
		),
		RemoteFetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "remote_fetch_duration_seconds",
				Help:      "Duration of remote entitlement source fetches",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),

		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "cache_hits_total",
				Help:      "Entitlement cache hits by level",
			},
			[]string{"level", "kind"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "cache_misses_total",
				Help:      "Entitlement cache misses by level",
			},
			[]string{"level", "kind"},
		),

		UsageEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "usage_events_total",
				Help:      "Usage events forwarded to the ledger",
			},
			[]string{"resource", "status"},
		),
		UsageEventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "usage_events_dropped_total",
				Help:      "Usage events dropped because the tracker buffer was full",
			},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request.
// Safe to call on a nil receiver.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordQuotaCheck records a quota check outcome.
func (m *Metrics) RecordQuotaCheck(action string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.QuotaChecksTotal.WithLabelValues(action, outcome).Inc()
}

// RecordRemoteFetch records the duration of a remote source fetch.
func (m *Metrics) RecordRemoteFetch(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for the given level and entry kind.
func (m *Metrics) RecordCacheHit(level, kind string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(level, kind).Inc()
}

// RecordCacheMiss records a cache miss for the given level and entry kind.
func (m *Metrics) RecordCacheMiss(level, kind string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(level, kind).Inc()
}

// RecordUsageEvent records a forwarded usage event.
func (m *Metrics) RecordUsageEvent(resource string, ok bool) {
	if m == nil {
		return
	}
	status := "error"
	if ok {
		status = "ok"
	}
	m.UsageEventsTotal.WithLabelValues(resource, status).Inc()
}

// RecordUsageEventDropped records a dropped usage event.
func (m *Metrics) RecordUsageEventDropped() {
	if m == nil {
		return
	}
	m.UsageEventsDropped.Inc()
}
