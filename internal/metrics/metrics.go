// Package metrics exposes gateway and agent counters in Prometheus format.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry      *prometheus.Registry
	admissions    *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	forwards      *prometheus.CounterVec
	forwardTime   *prometheus.HistogramVec
	registrations *prometheus.CounterVec
	keys          *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequery",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequery",
			Name:      "cache_lookups_total",
			Help:      "Endpoint resolution cache lookups by result.",
		}, []string{"result"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequery",
			Name:      "forward_requests_total",
			Help:      "Requests relayed to registered endpoints.",
		}, []string{"op", "outcome"}),
		forwardTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codequery",
			Name:      "forward_duration_seconds",
			Help:      "Latency of relayed requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequery",
			Name:      "agent_registrations_total",
			Help:      "Registration agent submissions by result.",
		}, []string{"result"}),
		keys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequery",
			Name:      "key_operations_total",
			Help:      "Key lifecycle operations by kind.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admissions, m.cacheLookups, m.forwards, m.forwardTime, m.registrations, m.keys,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Admission records an admission outcome such as "admitted", "expired" or
// "rate_limited".
func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// CacheHit records a resolution served from the cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss records a resolution that went to the endpoint store.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Forward records one relayed request.
func (m *Metrics) Forward(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(op, outcome).Inc()
	m.forwardTime.WithLabelValues(op).Observe(seconds)
}

// Registration records a registration agent submission result.
func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

// KeyOperation records a generate or purge.
func (m *Metrics) KeyOperation(op string) {
	if m == nil {
		return
	}
	m.keys.WithLabelValues(op).Inc()
}
