// Package metrics exposes Prometheus counters for the trade pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	trades       *prometheus.CounterVec
	submissions  *prometheus.CounterVec
	remediations *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// New creates and registers the pipeline metrics under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Terminal trade reports by status, side and error kind.",
			},
			[]string{"status", "side", "error_kind"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Order submissions by classification.",
			},
			[]string{"classification"},
		),
		remediations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediations_total",
				Help:      "Deposit and approval remediations by outcome.",
			},
			[]string{"step", "result"},
		),
		stageSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent per pipeline stage.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trades_in_flight",
			Help:      "Requests currently in the pipeline.",
		}),
	}

	m.registry.MustRegister(m.trades, m.submissions, m.remediations, m.stageSeconds, m.inFlight)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TradeStarted marks a request entering the pipeline and returns the func
// that marks it leaving.
func (m *Metrics) TradeStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// TradeFinished counts a terminal report.
func (m *Metrics) TradeFinished(r domain.TradeReport) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(string(r.Status), string(r.Side), r.ErrorKind).Inc()
}

// Submission counts one submission attempt.
func (m *Metrics) Submission(c domain.Classification) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(c)).Inc()
}

// Remediation counts one remediation step.
func (m *Metrics) Remediation(step string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.remediations.WithLabelValues(step, result).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}
