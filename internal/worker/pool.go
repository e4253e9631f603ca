package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
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

// Pool runs concurrent claim-execute loops per agent. Each loop claims
// the highest-priority waiting job, runs its handler, and records the
// outcome in the run ledger. Handler panics and errors become failed
// runs; they never crash a loop.
type Pool struct {
	store        *queue.Store
	registry     *handlers.Registry
	runs         postgres.RunRepository
	states       redisstore.JobStateStore // nil = disabled
	outbox       *outbox.Outbox           // nil = disabled
	perAgent     int
	pollInterval time.Duration
	logger       *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

func WithWorkersPerAgent(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.perAgent = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithJobStateStore(s redisstore.JobStateStore) Option {
	return func(p *Pool) { p.states = s }
}

func WithOutbox(o *outbox.Outbox) Option {
	return func(p *Pool) { p.outbox = o }
}

func NewPool(
	store *queue.Store,
	registry *handlers.Registry,
	runs postgres.RunRepository,
	logger *slog.Logger,
	opts ...Option,
) *Pool {
	p := &Pool{
		store:        store,
		registry:     registry,
		runs:         runs,
		perAgent:     2,
		pollInterval: time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the worker loops and returns immediately. Loops stop when
// ctx is cancelled; call Wait to block until in-flight jobs finish.
func (p *Pool) Run(ctx context.Context) {
	for _, agent := range p.registry.Agents() {
		for i := 0; i < p.perAgent; i++ {
			p.wg.Add(1)
			go p.loop(ctx, agent, i)
		}
	}
}

// Wait blocks until every loop has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, agent string, idx int) {
	defer p.wg.Done()

	workerID := fmt.Sprintf("%s-%d", agent, idx)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		// Drain everything claimable before sleeping.
		for {
			job, ok := p.store.Claim(agent)
			if !ok {
				break
			}
			p.execute(ctx, workerID, job)
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID string, job *domain.Job) {
	ctx, span := otel.Tracer("worker").Start(ctx, "worker.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.agent", job.AgentName),
		attribute.String("job.type", job.JobType),
		attribute.String("worker.id", workerID),
	)

	log := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("agent", job.AgentName),
		slog.String("job_type", job.JobType),
		slog.String("worker_id", workerID),
	)

	if p.states != nil {
		if err := p.states.SetState(ctx, job.ID, domain.JobActive); err != nil {
			log.Error("failed to mirror active state", slog.String("error", err.Error()))
		}
	}

	telemetry.WorkerRunsInFlight.WithLabelValues(job.AgentName).Inc()
	defer telemetry.WorkerRunsInFlight.WithLabelValues(job.AgentName).Dec()

	start := time.Now().UTC()
	outcome, execErr := p.runHandler(ctx, job)
	completed := time.Now().UTC()
	durationSec := completed.Sub(start).Seconds()
	durationMs := int64(durationSec * 1000)

	telemetry.WorkerRunDurationSeconds.WithLabelValues(job.AgentName).Observe(durationSec)

	run := &domain.AgentRun{
		ID:          uuid.New().String(),
		AgentName:   job.AgentName,
		JobType:     job.JobType,
		TokensUsed:  outcome.TokensUsed,
		CostUSD:     outcome.CostUSD,
		DurationMs:  durationMs,
		TriggeredBy: job.TriggeredBy,
		StartedAt:   start,
		CompletedAt: completed,
	}

	if execErr == nil {
		run.Status = domain.RunSuccess
		if err := p.store.Complete(job.ID); err != nil {
			log.Error("complete transition failed", slog.String("error", err.Error()))
		}
		if p.states != nil {
			_ = p.states.SetState(ctx, job.ID, domain.JobCompleted)
		}
		telemetry.WorkerRuns.WithLabelValues(job.AgentName, string(domain.RunSuccess)).Inc()
		telemetry.WorkerRunCostUSD.WithLabelValues(job.AgentName).Add(outcome.CostUSD)
		log.Info("job completed",
			slog.Int64("duration_ms", durationMs),
			slog.Int("tokens_used", outcome.TokensUsed),
			slog.Float64("cost_usd", outcome.CostUSD),
		)
	} else {
		run.Status = domain.RunFailed
		run.Error = execErr.Error()
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "handler failed")
		if err := p.store.Fail(job.ID, execErr.Error()); err != nil {
			log.Error("fail transition failed", slog.String("error", err.Error()))
		}
		if p.states != nil {
			_ = p.states.SetState(ctx, job.ID, domain.JobFailed)
		}
		telemetry.WorkerRuns.WithLabelValues(job.AgentName, string(domain.RunFailed)).Inc()
		log.Error("job failed",
			slog.Int64("duration_ms", durationMs),
			slog.String("error", execErr.Error()),
		)
		if p.outbox != nil {
			p.outbox.Publish(outbox.KindRunFailed, job.ID, map[string]string{
				"agent":    job.AgentName,
				"job_type": job.JobType,
				"error":    execErr.Error(),
			})
		}
	}

	if err := p.runs.Record(ctx, run); err != nil {
		log.Error("failed to record run", slog.String("error", err.Error()))
	}
}

// runHandler resolves and invokes the handler, converting a panic into
// an error so a misbehaving agent cannot take the loop down.
func (p *Pool) runHandler(ctx context.Context, job *domain.Job) (outcome domain.Outcome, err error) {
	h, err := p.registry.Get(job.AgentName, job.JobType)
	if err != nil {
		return domain.Outcome{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = domain.Outcome{}
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Execute(ctx, job.Payload)
}
