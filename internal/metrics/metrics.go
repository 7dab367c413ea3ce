// Package metrics exposes Prometheus collectors for the assessment service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assesspipe"

// Metrics holds the collectors and the registry they are registered in.
type Metrics struct {
	registry *prometheus.Registry

	assessments       *prometheus.CounterVec
	generationSeconds *prometheus.HistogramVec
	chats             *prometheus.CounterVec
	quotes            *prometheus.CounterVec
	leads             *prometheus.CounterVec
	notifications     *prometheus.CounterVec
}

// New creates a Metrics instance backed by a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		assessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessment_requests_total",
				Help:      "Assessment turns served, partitioned by profile and outcome.",
			},
			[]string{"profile", "outcome"},
		),
		generationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Latency of model-backed assessment turns.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"profile", "outcome"},
		),
		chats: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_streams_total",
				Help:      "Chat streams started, partitioned by profile and result.",
			},
			[]string{"profile", "result"},
		),
		quotes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pricing_requests_total",
				Help:      "Pricing quotes and proposals, partitioned by kind and result.",
			},
			[]string{"kind", "result"},
		),
		leads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leads_recorded_total",
				Help:      "Leads recorded, partitioned by kind.",
			},
			[]string{"kind"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lead_notifications_total",
				Help:      "Lead notification delivery attempts, partitioned by result.",
			},
			[]string{"result"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAssessment records one assessment turn. Elapsed is only observed
// for turns that reached the model.
func (m *Metrics) ObserveAssessment(profile, outcome string, elapsed time.Duration) {
	m.assessments.WithLabelValues(profile, outcome).Inc()
	if elapsed > 0 {
		m.generationSeconds.WithLabelValues(profile, outcome).Observe(elapsed.Seconds())
	}
}

// ObserveChat records a chat stream result.
func (m *Metrics) ObserveChat(profile, result string) {
	m.chats.WithLabelValues(profile, result).Inc()
}

// ObservePricing records a quote or proposal request.
func (m *Metrics) ObservePricing(kind, result string) {
	m.quotes.WithLabelValues(kind, result).Inc()
}

// ObserveLead records a stored lead.
func (m *Metrics) ObserveLead(kind string) {
	m.leads.WithLabelValues(kind).Inc()
}

// NotificationResult records one notification delivery attempt.
func (m *Metrics) NotificationResult(result string) {
	m.notifications.WithLabelValues(result).Inc()
}
