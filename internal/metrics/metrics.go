// Package metrics exposes Prometheus metrics for the HTTP layer and the
// execution engine.
//
// Metrics implements the observer interfaces of sandbox, relay and
// playground, so the engine reports into it without importing Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/pattern-playground/internal/event"
)

const namespace = "playground"

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge

	// Comparison cycles
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	CyclesRejected prometheus.Counter
	SideTime       *prometheus.HistogramVec

	// Sandbox contexts
	ContextsLive    *prometheus.GaugeVec
	ContextsCreated *prometheus.CounterVec

	// Relay
	MessagesAccepted *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
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

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket sessions.",
		}),

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished comparison cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of a comparison cycle.",
			Buckets:   []float64{.1, .25, .5, .75, 1, 2, 5, 10},
		}),
		CyclesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_rejected_total",
			Help:      "Run requests refused because a cycle was already in progress.",
		}),
		SideTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "side_time_milliseconds",
			Help:      "Self-reported execution time of user code per side.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 9),
		}, []string{"side"}),

		ContextsLive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sandbox_contexts_live",
			Help:      "Sandbox contexts currently alive.",
		}, []string{"side"}),
		ContextsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_contexts_created_total",
			Help:      "Sandbox contexts created.",
		}, []string{"side"}),

		MessagesAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_accepted_total",
			Help:      "Messages accepted by the relay.",
		}, []string{"type", "side"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_dropped_total",
			Help:      "Messages dropped by the relay.",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGauge exposes a value computed on scrape, e.g. the warm size of
// the container pool.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// sandbox.Observer

func (m *Metrics) ContextCreated(side event.Side) {
	m.ContextsCreated.WithLabelValues(string(side)).Inc()
	m.ContextsLive.WithLabelValues(string(side)).Inc()
}

func (m *Metrics) ContextDestroyed(side event.Side) {
	m.ContextsLive.WithLabelValues(string(side)).Dec()
}

// relay.Observer

func (m *Metrics) MessageAccepted(kind string, side event.Side) {
	m.MessagesAccepted.WithLabelValues(kind, string(side)).Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// playground.Observer

func (m *Metrics) CycleStarted() {}

func (m *Metrics) CycleFinished(outcome string, elapsed time.Duration) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CycleRejected() {
	m.CyclesRejected.Inc()
}

func (m *Metrics) SideTimed(side event.Side, ms float64) {
	m.SideTime.WithLabelValues(string(side)).Observe(ms)
}
