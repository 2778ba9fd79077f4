// Package metrics holds the Prometheus instruments of the edit service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains every instrument the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Edit metrics
	EditsTotal        *prometheus.CounterVec
	EditDuration      prometheus.Histogram
	StatementsChanged *prometheus.CounterVec
	MatchSteps        prometheus.Histogram

	// Read metrics
	GetsTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphedit",
				Subsystem: "editor",
				Name:      "edits_total",
				Help:      "Total number of edit requests by outcome",
			},
			[]string{"result"}, // ok or an error kind
		),

		EditDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "graphedit",
				Subsystem: "editor",
				Name:      "edit_duration_seconds",
				Help:      "Edit duration in seconds, decode to commit",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		StatementsChanged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphedit",
				Subsystem: "editor",
				Name:      "statements_changed_total",
				Help:      "Statements removed from or added to graphs",
			},
			[]string{"op"}, // removed, added
		),

		MatchSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "graphedit",
				Subsystem: "editor",
				Name:      "match_steps",
				Help:      "Search steps spent locating revoked fragments",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),

		GetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphedit",
				Subsystem: "editor",
				Name:      "gets_total",
				Help:      "Total number of node view requests by outcome",
			},
			[]string{"result"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphedit",
				Subsystem: "subscriptions",
				Name:      "notifications_total",
				Help:      "Webhook notifications by outcome",
			},
			[]string{"result"}, // delivered, failed, dropped
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EditsTotal,
		m.EditDuration,
		m.StatementsChanged,
		m.MatchSteps,
		m.GetsTotal,
		m.NotificationsTotal,
	)
	return m
}

// Register adds an extra collector, such as a gauge reading store state.
func (m *Metrics) Register(c prometheus.Collector) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(c)
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEdit records one edit request.
func (m *Metrics) ObserveEdit(result string, elapsed time.Duration, removed, added, steps int) {
	if m == nil {
		return
	}
	m.EditsTotal.WithLabelValues(result).Inc()
	m.EditDuration.Observe(elapsed.Seconds())
	if result != "ok" {
		return
	}
	m.StatementsChanged.WithLabelValues("removed").Add(float64(removed))
	m.StatementsChanged.WithLabelValues("added").Add(float64(added))
	m.MatchSteps.Observe(float64(steps))
}

// ObserveGet records one node view request.
func (m *Metrics) ObserveGet(result string) {
	if m == nil {
		return
	}
	m.GetsTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records a webhook outcome.
func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}
