package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jinglegw"

// Metrics groups the gateway collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	callsTotal   *prometheus.CounterVec
	callsActive  prometheus.Gauge
	negotiations *prometheus.CounterVec
	negotiation  prometheus.Histogram
	dtmfDigits   *prometheus.CounterVec
	handles      prometheus.Gauge
	signals      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls created, by direction.",
		}, []string{"direction"}),
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Calls not yet torn down.",
		}),
		negotiations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Negotiation outcomes.",
		}, []string{"outcome"}),
		negotiation: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_seconds",
			Help:      "Time from call creation to media readiness.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		dtmfDigits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dtmf_digits_total",
			Help:      "Telephone-event digits, by direction.",
		}, []string{"direction"}),
		handles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_handles",
			Help:      "Running signaling connections.",
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Inbound signaling events, by kind and status.",
		}, []string{"signal", "status"}),
	}
}

func (m *Metrics) CallStarted(direction string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction).Inc()
	m.callsActive.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.callsActive.Dec()
}

func (m *Metrics) Negotiated(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.negotiations.WithLabelValues(outcome).Inc()
	if outcome == "ready" {
		m.negotiation.Observe(seconds)
	}
}

func (m *Metrics) DTMF(direction string) {
	if m == nil {
		return
	}
	m.dtmfDigits.WithLabelValues(direction).Inc()
}

func (m *Metrics) HandleUp() {
	if m == nil {
		return
	}
	m.handles.Inc()
}

func (m *Metrics) HandleDown() {
	if m == nil {
		return
	}
	m.handles.Dec()
}

func (m *Metrics) Signal(signal, status string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(signal, status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
