package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"DualSpectra/internal/model"
)

// promMirror mirrors the aggregator's counters into Prometheus collectors.
// The in-process counters stay the source of truth for /status; each
// Aggregator owns its own registry so Reset clears both views together.
type promMirror struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	incomplete *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	handshake  *prometheus.HistogramVec
	conns      *prometheus.GaugeVec
}

func newPromMirror() *promMirror {
	m := &promMirror{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualspectra_requests_total",
			Help: "Completed requests by protocol",
		}, []string{"protocol"}),
		incomplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualspectra_incomplete_requests_total",
			Help: "Requests whose response was not fully sent, by protocol",
		}, []string{"protocol"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualspectra_response_bytes_total",
			Help: "Response body bytes written, by protocol",
		}, []string{"protocol"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dualspectra_request_duration_seconds",
			Help:    "Request latency from header decode to last byte",
			Buckets: secondsBuckets(),
		}, []string{"protocol"}),
		handshake: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dualspectra_handshake_duration_seconds",
			Help:    "Transport handshake latency by protocol",
			Buckets: secondsBuckets(),
		}, []string{"protocol"}),
		conns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualspectra_active_connections",
			Help: "Currently tracked connections by protocol",
		}, []string{"protocol"}),
	}
	m.registry.MustRegister(
		m.requests, m.incomplete, m.bytes,
		m.duration, m.handshake, m.conns,
	)
	return m
}

func secondsBuckets() []float64 {
	buckets := make([]float64, len(BucketBoundsMs))
	for i, ms := range BucketBoundsMs {
		buckets[i] = ms / 1000
	}
	return buckets
}

// MetricsHandler serves the Prometheus exposition for this aggregator.
func (a *Aggregator) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.prom.registry, promhttp.HandlerOpts{})
}

func (m *promMirror) observeSample(sample model.MetricSample) {
	label := string(sample.Protocol)
	m.requests.WithLabelValues(label).Inc()
	m.bytes.WithLabelValues(label).Add(float64(sample.Bytes))
	m.duration.WithLabelValues(label).Observe(sample.Total.Seconds())
}

func (m *promMirror) observeIncomplete(kind model.ProtocolKind) {
	m.incomplete.WithLabelValues(string(kind)).Inc()
}

func (m *promMirror) observeHandshake(kind model.ProtocolKind, d time.Duration) {
	m.handshake.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *promMirror) connAdd(kind model.ProtocolKind, delta float64) {
	m.conns.WithLabelValues(string(kind)).Add(delta)
}

func (m *promMirror) reset() {
	m.requests.Reset()
	m.incomplete.Reset()
	m.bytes.Reset()
	m.duration.Reset()
	m.handshake.Reset()
	m.conns.Reset()
}
