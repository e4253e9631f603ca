package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Dispatcher ──────────────────────────────────────────────────────────────

	DispatcherJobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "dispatcher",
		Name:      "jobs_dispatched_total",
		Help:      "Total jobs enqueued, labelled by agent and trigger.",
	}, []string{"agent", "trigger"})

	DispatcherGuardrailSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "dispatcher",
		Name:      "guardrail_skips_total",
		Help:      "Scheduled dispatches skipped because the agent hit its daily cost ceiling.",
	}, []string{"agent"})

	DispatcherRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "dispatcher",
		Name:      "rejected_total",
		Help:      "Dispatches rejected by validation (unknown agent or job type).",
	}, []string{"agent"})

	// ─── Queue ───────────────────────────────────────────────────────────────────

	QueueWaiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "growthflow",
		Subsystem: "queue",
		Name:      "waiting_jobs",
		Help:      "Jobs currently waiting in each agent queue.",
	}, []string{"agent"})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "worker",
		Name:      "runs_total",
		Help:      "Completed agent runs, labelled by agent and terminal status.",
	}, []string{"agent", "status"})

	WorkerRunsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "growthflow",
		Subsystem: "worker",
		Name:      "runs_inflight",
		Help:      "Jobs currently executing.",
	}, []string{"agent"})

	WorkerRunDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "growthflow",
		Subsystem: "worker",
		Name:      "run_duration_seconds",
		Help:      "End-to-end handler execution time in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"agent"})

	WorkerRunCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "worker",
		Name:      "run_cost_usd_total",
		Help:      "Cumulative handler-reported cost in USD.",
	}, []string{"agent"})

	// ─── Attribution ─────────────────────────────────────────────────────────────

	AttributionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "attribution",
		Name:      "events_attributed_total",
		Help:      "Revenue events attributed, labelled by model.",
	}, []string{"model"})

	AttributionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "attribution",
		Name:      "failures_total",
		Help:      "Attribution transactions rolled back.",
	})

	// ─── Experiments ─────────────────────────────────────────────────────────────

	ExperimentSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "experiments",
		Name:      "sweeps_total",
		Help:      "Resolver sweep iterations.",
	})

	ExperimentResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "experiments",
		Name:      "resolutions_total",
		Help:      "Experiment decisions, labelled by outcome (winner_found, killed, continued, unavailable).",
	}, []string{"outcome"})

	// ─── Outbox ──────────────────────────────────────────────────────────────────

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Notifications drained to the event topic, labelled by kind.",
	}, []string{"kind"})

	OutboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "outbox",
		Name:      "dropped_total",
		Help:      "Notifications dropped because the outbox was full.",
	})

	OutboxPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "outbox",
		Name:      "publish_failures_total",
		Help:      "Notifications that exhausted publish retries.",
	})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "scheduler",
		Name:      "fires_total",
		Help:      "Schedule fires, labelled by agent.",
	}, []string{"agent"})

	SchedulerInvalidRules = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthflow",
		Subsystem: "scheduler",
		Name:      "invalid_rules_total",
		Help:      "Dynamic schedules rejected at load time for bad cron expressions.",
	})
)
