// Package metrics exposes probed's runtime counters to Prometheus.
//
// # Design rationale
//
// The dispatch core's hot path (the input loop and detached workers) must
// never block on metrics recording, so every recorder here is either a
// lock-free Prometheus counter/gauge increment or a histogram observation —
// no I/O, no locks beyond what the client library itself holds internally.
//
// # Invariants
//
//   - repliesTotal, split by outcome label, accounts for every reply a
//     worker sends; it is never reset between scrapes. Replies the input
//     loop sends itself (cache hits, E_NO_ATTR, spawn failure) are not
//     counted here.
//   - registrySize tracks the in-flight registry's live entry count and
//     must be updated by the registry itself on every insert/remove so it
//     never drifts from the registry's actual map length.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors wraps the Prometheus collectors probed registers.
type Collectors struct {
	registry *prometheus.Registry

	cacheLookupsTotal *prometheus.CounterVec // result: hit|miss
	repliesTotal      *prometheus.CounterVec // outcome: ok|error, error_code
	workerDuration    *prometheus.HistogramVec
	registrySize      prometheus.Gauge
	cacheSize         prometheus.Gauge
	auditWriteErrors  prometheus.Counter
	artifactUploads   *prometheus.CounterVec // result: ok|error
}

var defaultBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

var global *Collectors

// Init builds and registers the Prometheus collector set under namespace,
// replacing any previously initialized set. Safe to call once at startup.
func Init(namespace string, buckets []float64) *Collectors {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collectors{
		registry: registry,

		cacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome",
		}, []string{"result"}),

		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies sent by workers",
		}, []string{"outcome", "error_code"}),

		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_duration_ms",
			Help:      "Time from request dispatch to reply, in milliseconds",
			Buckets:   buckets,
		}, []string{"outcome"}),

		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_size",
			Help:      "Current number of in-flight worker handles",
		}),

		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of entries in the result cache",
		}),

		auditWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_errors_total",
			Help:      "Audit sink writes that failed and were swallowed",
		}),

		artifactUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_uploads_total",
			Help:      "Oversized-result artifact uploads by outcome",
		}, []string{"result"}),
	}

	registry.MustRegister(
		c.cacheLookupsTotal,
		c.repliesTotal,
		c.workerDuration,
		c.registrySize,
		c.cacheSize,
		c.auditWriteErrors,
		c.artifactUploads,
	)

	global = c
	return c
}

// Global returns the process-wide collector set, or nil if Init was never
// called (metrics disabled).
func Global() *Collectors {
	return global
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format for this collector set.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordCacheHit increments the cache-hit counter. No-op if metrics are disabled.
func RecordCacheHit() {
	if global == nil {
		return
	}
	global.cacheLookupsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss increments the cache-miss counter. No-op if metrics are disabled.
func RecordCacheMiss() {
	if global == nil {
		return
	}
	global.cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordReply records a reply outcome and its worker duration. No-op if
// metrics are disabled. errorCode is empty for successful replies.
func RecordReply(outcome, errorCode string, durationMs float64) {
	if global == nil {
		return
	}
	global.repliesTotal.WithLabelValues(outcome, errorCode).Inc()
	global.workerDuration.WithLabelValues(outcome).Observe(durationMs)
}

// SetRegistrySize reports the registry's current live entry count.
func SetRegistrySize(n int) {
	if global == nil {
		return
	}
	global.registrySize.Set(float64(n))
}

// SetCacheSize reports the result cache's current entry count.
func SetCacheSize(n int) {
	if global == nil {
		return
	}
	global.cacheSize.Set(float64(n))
}

// RecordAuditWriteError increments the swallowed-audit-error counter.
func RecordAuditWriteError() {
	if global == nil {
		return
	}
	global.auditWriteErrors.Inc()
}

// RecordArtifactUpload records an artifact upload attempt's outcome.
func RecordArtifactUpload(ok bool) {
	if global == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	global.artifactUploads.WithLabelValues(result).Inc()
}
