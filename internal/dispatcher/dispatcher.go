package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/handlers"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/outbox"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/postgres"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/queue"
	redisstore "github.com/rohitwanchoo/lsc-marketing-sub000/internal/redis"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/telemetry"
)

// Request describes a job to dispatch. JobID is optional; a UUID is
// generated when empty. MaxDailyCost only applies to scheduled triggers.
type Request struct {
	JobID        string
	AgentName    string
	JobType      string
	Payload      json.RawMessage
	Priority     int
	TriggeredBy  domain.Trigger
	MaxDailyCost float64
}

// JobHandle is returned to the caller after a successful dispatch.
type JobHandle struct {
	JobID string
}

// Dispatcher validates requests, enforces spend guardrails and places
// jobs on the queue.
type Dispatcher struct {
	store    *queue.Store
	registry *handlers.Registry
	runs     postgres.RunRepository
	states   redisstore.JobStateStore // nil = disabled
	outbox   *outbox.Outbox           // nil = disabled
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithJobStateStore(s redisstore.JobStateStore) Option {
	return func(d *Dispatcher) { d.states = s }
}

func WithOutbox(o *outbox.Outbox) Option {
	return func(d *Dispatcher) { d.outbox = o }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(
	store *queue.Store,
	registry *handlers.Registry,
	runs postgres.RunRepository,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		registry: registry,
		runs:     runs,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates the request and enqueues a job. Scheduled requests
// carrying a daily cost ceiling are skipped once today's recorded spend
// has reached the ceiling; manual and system triggers always pass.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (JobHandle, error) {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.dispatch")
	defer span.End()

	if req.AgentName == "" {
		telemetry.DispatcherRejected.WithLabelValues("").Inc()
		return JobHandle{}, &domain.ValidationError{Field: "agent_name", Reason: "must not be empty"}
	}
	if req.JobType == "" {
		telemetry.DispatcherRejected.WithLabelValues(req.AgentName).Inc()
		return JobHandle{}, &domain.ValidationError{Field: "job_type", Reason: "must not be empty"}
	}
	if _, err := d.registry.Get(req.AgentName, req.JobType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		telemetry.DispatcherRejected.WithLabelValues(req.AgentName).Inc()
		return JobHandle{}, err
	}

	priority := req.Priority
	if priority == 0 {
		priority = domain.PriorityDefault
	}
	if priority < domain.PriorityMin {
		priority = domain.PriorityMin
	}
	if priority > domain.PriorityMax {
		priority = domain.PriorityMax
	}

	trigger := req.TriggeredBy
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	span.SetAttributes(
		attribute.String("job.agent", req.AgentName),
		attribute.String("job.type", req.JobType),
		attribute.String("job.trigger", string(trigger)),
		attribute.Int("job.priority", priority),
	)

	if trigger == domain.TriggerSchedule && req.MaxDailyCost > 0 {
		if err := d.checkGuardrail(ctx, req.AgentName, req.MaxDailyCost); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "guardrail exceeded")
			return JobHandle{}, err
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	job := &domain.Job{
		ID:          jobID,
		AgentName:   req.AgentName,
		JobType:     req.JobType,
		Payload:     req.Payload,
		Priority:    priority,
		State:       domain.JobWaiting,
		TriggeredBy: trigger,
	}

	if err := d.store.Enqueue(job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		telemetry.DispatcherRejected.WithLabelValues(req.AgentName).Inc()
		return JobHandle{}, err
	}

	// Best-effort state mirror. A Redis failure never blocks dispatch.
	if d.states != nil {
		if err := d.states.SetState(ctx, jobID, domain.JobWaiting); err != nil {
			d.logger.Error("failed to mirror job state",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		} else if err := d.states.SetJobMeta(ctx, job); err != nil {
			d.logger.Error("failed to mirror job meta",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	telemetry.DispatcherJobsDispatched.WithLabelValues(req.AgentName, string(trigger)).Inc()
	d.logger.Info("job dispatched",
		slog.String("job_id", jobID),
		slog.String("agent", req.AgentName),
		slog.String("job_type", req.JobType),
		slog.Int("priority", priority),
		slog.String("triggered_by", string(trigger)),
	)
	return JobHandle{JobID: jobID}, nil
}

// guardrailMargin trips the guardrail once spend reaches 95% of the
// ceiling, so a scheduled run cannot start with only pennies of budget
// left and then blow past the limit mid-run.
const guardrailMargin = 0.95

// checkGuardrail compares the agent's spend since midnight UTC against
// its daily ceiling. Ledger errors fail open so a DB blip cannot stall
// every scheduled agent.
func (d *Dispatcher) checkGuardrail(ctx context.Context, agent string, limit float64) error {
	midnight := d.now().UTC().Truncate(24 * time.Hour)
	spent, err := d.runs.SumCostSince(ctx, agent, midnight)
	if err != nil {
		d.logger.Error("guardrail spend lookup failed",
			slog.String("agent", agent),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if spent < limit*guardrailMargin {
		return nil
	}

	telemetry.DispatcherGuardrailSkips.WithLabelValues(agent).Inc()
	d.logger.Warn("daily cost guardrail tripped, skipping scheduled job",
		slog.String("agent", agent),
		slog.Float64("spent_usd", spent),
		slog.Float64("limit_usd", limit),
	)
	if d.outbox != nil {
		d.outbox.Publish(outbox.KindGuardrailTripped, agent, map[string]float64{
			"spent_usd": spent,
			"limit_usd": limit,
		})
	}
	return &domain.GuardrailExceededError{AgentName: agent, SpentUSD: spent, LimitUSD: limit}
}
