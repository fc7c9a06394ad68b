package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxvol"

// Metrics holds the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	Cycles           prometheus.Counter
	CycleDuration    prometheus.Histogram
	SubjectOutcomes  *prometheus.CounterVec
	Score            *prometheus.GaugeVec
	VolPct           *prometheus.GaugeVec
	AlertsFired      *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	WebhookEvents    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Cycles: newCounter(reg, prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed evaluation cycles.",
		}),
		CycleDuration: newHist(reg, prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of evaluation cycles.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SubjectOutcomes: newCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace, Name: "subject_evaluations_total",
			Help: "Per-subject evaluation outcomes.",
		}, []string{"outcome"}),
		Score: newGaugeVec(reg, prometheus.GaugeOpts{
			Namespace: namespace, Name: "volatility_score",
			Help: "Latest 0-100 volatility score per subject.",
		}, []string{"subject"}),
		VolPct: newGaugeVec(reg, prometheus.GaugeOpts{
			Namespace: namespace, Name: "rolling_volatility_pct",
			Help: "Latest rolling volatility percentage per subject.",
		}, []string{"subject"}),
		AlertsFired: newCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_fired_total",
			Help: "Alerts that passed de-duplication.",
		}, []string{"subject"}),
		DeliveryFailures: newCounter(reg, prometheus.CounterOpts{
			Namespace: namespace, Name: "alert_delivery_failures_total",
			Help: "Alerts whose delivery exhausted all attempts.",
		}),
		WebhookEvents: newCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_events_total",
			Help: "Payment webhook events by type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func newCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	reg.MustRegister(c)
	return c
}

func newCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	reg.MustRegister(c)
	return c
}

func newGaugeVec(reg prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	reg.MustRegister(g)
	return g
}

func newHist(reg prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	reg.MustRegister(h)
	return h
}
