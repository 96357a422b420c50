// Package metrics exposes governance counters in Prometheus format.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/warden/pkg/models"
)

const namespace = "warden"

// Metrics owns a private registry and the governance collectors.
type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	strikes          *prometheus.CounterVec
	swept            *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates Metrics with process and Go runtime collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Governance decisions by outcome.",
		}, []string{"outcome"}),
		strikes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_total",
			Help:      "Off-topic strikes, split by whether they armed a penalty.",
		}, []string{"penalized"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_records_total",
			Help:      "Expired records physically removed by the sweeper.",
		}, []string{"store"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Generation call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.strikes,
		m.swept,
		m.upstreamDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterSize adds a gauge reporting the live size of a governance store.
func (m *Metrics) RegisterSize(store string, fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "store_records",
		Help:        "Records currently held by a governance store.",
		ConstLabels: prometheus.Labels{"store": store},
	}, func() float64 { return float64(fn()) }))
}

// RegisterCache exposes the response cache's hit, miss and eviction counters.
func (m *Metrics) RegisterCache(stats func() models.CacheStats) {
	if m == nil {
		return
	}
	counters := []struct {
		name, help string
		pick       func(models.CacheStats) int64
	}{
		{"cache_hits_total", "Cache lookups that found a live entry.", func(s models.CacheStats) int64 { return s.Hits }},
		{"cache_misses_total", "Cache lookups that found nothing live.", func(s models.CacheStats) int64 { return s.Misses }},
		{"cache_evictions_total", "Entries evicted to stay within capacity.", func(s models.CacheStats) int64 { return s.Evictions }},
	}
	for _, c := range counters {
		pick := c.pick
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(pick(stats())) }))
	}
}

// ObserveDecision counts one governance outcome.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveStrike counts one off-topic strike.
func (m *Metrics) ObserveStrike(penalized bool) {
	if m == nil {
		return
	}
	m.strikes.WithLabelValues(strconv.FormatBool(penalized)).Inc()
}

// ObserveSweep adds n removed records for store.
func (m *Metrics) ObserveSweep(store string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(store).Add(float64(n))
}

// ObserveUpstream records the latency of one generation call.
func (m *Metrics) ObserveUpstream(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upstreamDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
