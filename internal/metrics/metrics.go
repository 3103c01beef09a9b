// Package metrics exposes Prometheus instrumentation for the directory bot.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "group_directory"

// Metrics owns a dedicated registry and the bot's collectors.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	linkChecks  *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	groups      *prometheus.GaugeVec
}

// New registers the bot collectors plus Go and process collectors on a fresh
// registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events handled, by event and result.",
		}, []string{"event", "result"}),
		linkChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_link_checks_total",
			Help:      "Invite link reconciliation outcomes per group.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_jobs_total",
			Help:      "Dispatched update jobs, by kind and status.",
		}, []string{"kind", "status"}),
		groups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Stored groups per lifecycle state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.linkChecks,
		m.jobs,
		m.groups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
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

func (m *Metrics) LifecycleEvent(event, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, result).Inc()
}

func (m *Metrics) LinkCheck(outcome string) {
	if m == nil {
		return
	}
	m.linkChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Job(kind, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, status).Inc()
}

// SetGroups records the number of stored groups in state.
func (m *Metrics) SetGroups(state string, count int64) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(state).Set(float64(count))
}
