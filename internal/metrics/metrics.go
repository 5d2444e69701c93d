// Package metrics exposes prometheus collectors for the evaluation engine
// and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all collectors behind one registry so tests and embedded
// uses never fight over the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	EvaluationsTotal   prometheus.Counter
	RulesEvaluated     prometheus.Counter
	RuleMatchesTotal   prometheus.Counter
	LeafErrorsTotal    *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	EventsDispatched   *prometheus.CounterVec
	EventDispatchFails *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
	RulesLoaded        prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factkeeper_evaluations_total",
			Help: "Fact documents evaluated.",
		}),
		RulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factkeeper_rules_evaluated_total",
			Help: "Individual rule evaluations across all runs.",
		}),
		RuleMatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factkeeper_rule_matches_total",
			Help: "Rule evaluations whose condition tree passed.",
		}),
		LeafErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factkeeper_leaf_errors_total",
			Help: "Leaf diagnostics recorded under the fail-closed policy.",
		}, []string{"kind"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "factkeeper_evaluation_duration_seconds",
			Help:    "Wall-clock duration of one engine run.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factkeeper_events_dispatched_total",
			Help: "Events delivered, by event type.",
		}, []string{"type"}),
		EventDispatchFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factkeeper_event_dispatch_failures_total",
			Help: "Event deliveries that failed, by event type.",
		}, []string{"type"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factkeeper_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "factkeeper_rules_loaded",
			Help: "Rules in the active engine.",
		}),
	}

	registry.MustRegister(
		m.EvaluationsTotal,
		m.RulesEvaluated,
		m.RuleMatchesTotal,
		m.LeafErrorsTotal,
		m.EvaluationDuration,
		m.EventsDispatched,
		m.EventDispatchFails,
		m.HTTPRequestsTotal,
		m.RulesLoaded,
	)
	return m
}

// Registry returns the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun records one engine run: its duration, the per-rule verdicts,
// and every leaf diagnostic found in the detail trees.
func (m *Metrics) ObserveRun(duration time.Duration, matched, evaluated int, errorKinds map[string]int) {
	m.EvaluationsTotal.Inc()
	m.RulesEvaluated.Add(float64(evaluated))
	m.RuleMatchesTotal.Add(float64(matched))
	m.EvaluationDuration.Observe(duration.Seconds())
	for kind, n := range errorKinds {
		m.LeafErrorsTotal.WithLabelValues(kind).Add(float64(n))
	}
}
