package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		New,
	),
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	Assignments        *prometheus.CounterVec
	AssignmentDeferred *prometheus.CounterVec
	Executions         *prometheus.CounterVec
	TaskTransitions    *prometheus.CounterVec
	Heartbeats         prometheus.Counter
	GateDecisions      *prometheus.CounterVec
	PluginFetches      *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "assignments_total",
			Help:      "Tasks moved from Created to Active, by ownership policy.",
		}, []string{"owner"}),
		AssignmentDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "assignment_deferred_total",
			Help:      "Assignment attempts that left a task in Created.",
		}, []string{"reason"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "executions_recorded_total",
			Help:      "Execution reports accepted, by normalized status.",
		}, []string{"status"}),
		TaskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "task_transitions_total",
			Help:      "Task status transitions, by target status and cause.",
		}, []string{"status", "cause"}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "heartbeats_total",
			Help:      "Heartbeats received.",
		}),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "interval_gate_decisions_total",
			Help:      "Interval gate acquisitions, by outcome.",
		}, []string{"outcome"}),
		PluginFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "plugin_fetches_total",
			Help:      "Plugin artifact downloads served, by plugin.",
		}, []string{"plugin"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "octopus",
			Name:      "scheduler_tick_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Assignments,
			m.AssignmentDeferred,
			m.Executions,
			m.TaskTransitions,
			m.Heartbeats,
			m.GateDecisions,
			m.PluginFetches,
			m.SweepDuration,
		)
	}
	return m
}

// NewNop returns unregistered collectors, for tests and tools.
func NewNop() *Metrics {
	return New(nil)
}
