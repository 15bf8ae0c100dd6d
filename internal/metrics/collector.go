// Package metrics exposes the cycle engine's Prometheus collectors. It
// follows the registerer-injection pattern used elsewhere in the pack's
// tool SLA router: callers pass a prometheus.Registerer at construction
// time so tests can use a throwaway registry instead of the global one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every metric the cycle engine publishes. spec.md's
// Non-goals exclude a full observability stack, but the ambient logging and
// metrics conventions carried for the tool router apply just as much here.
type Collector struct {
	TasksClaimed      *prometheus.CounterVec
	TasksCompleted    *prometheus.CounterVec
	CyclesStarted     prometheus.Counter
	CyclesCompleted   *prometheus.CounterVec
	ReviewerVerdicts  *prometheus.CounterVec
	ReviewerDuration  prometheus.Histogram
	FlowFindings      *prometheus.CounterVec
	BudgetFraction    prometheus.Gauge
	WorkersActive     prometheus.Gauge
	WorkerRespawns    *prometheus.CounterVec
	EscalationsRaised prometheus.Counter
}

// NewCollector builds and registers every metric against reg. Tests pass a
// throwaway prometheus.NewRegistry(); cmd/cycleforge also passes its own
// prometheus.NewRegistry(), which it serves on /metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		TasksClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "coordination",
			Name:      "tasks_claimed_total",
			Help:      "Tasks claimed by a worker session, labeled by session id.",
		}, []string{"session_id"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "coordination",
			Name:      "tasks_completed_total",
			Help:      "Tasks marked complete, labeled by outcome status.",
		}, []string{"status"}),
		CyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "cycle",
			Name:      "cycles_started_total",
			Help:      "Cycle engine iterations started.",
		}),
		CyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "cycle",
			Name:      "cycles_completed_total",
			Help:      "Cycle engine iterations completed, labeled by checkpoint decision.",
		}, []string{"decision"}),
		ReviewerVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "reviewer",
			Name:      "verdicts_total",
			Help:      "Reviewer invocations, labeled by verdict.",
		}, []string{"verdict"}),
		ReviewerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cycleforge",
			Subsystem: "reviewer",
			Name:      "invocation_duration_seconds",
			Help:      "Wall time spent in a single reviewer CLI invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
		FlowFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "tracer",
			Name:      "findings_total",
			Help:      "Flow tracer findings, labeled by severity.",
		}, []string{"severity"}),
		BudgetFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "budget",
			Name:      "fraction_used",
			Help:      "Most recently polled fraction of usage budget consumed, in [0,1].",
		}),
		WorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "worker",
			Name:      "sessions_active",
			Help:      "Worker sessions currently running.",
		}),
		WorkerRespawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "worker",
			Name:      "respawns_total",
			Help:      "Worker sessions respawned, labeled by reason.",
		}, []string{"reason"}),
		EscalationsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "cycle",
			Name:      "escalations_total",
			Help:      "Escalation records written because the engine could not make forward progress.",
		}),
	}

	reg.MustRegister(
		c.TasksClaimed,
		c.TasksCompleted,
		c.CyclesStarted,
		c.CyclesCompleted,
		c.ReviewerVerdicts,
		c.ReviewerDuration,
		c.FlowFindings,
		c.BudgetFraction,
		c.WorkersActive,
		c.WorkerRespawns,
		c.EscalationsRaised,
	)

	return c
}
