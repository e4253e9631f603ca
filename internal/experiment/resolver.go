package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/analytics"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/dispatcher"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/outbox"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/postgres"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/telemetry"
)

// Decision thresholds. Winner declaration needs both significance and a
// worthwhile uplift; the kill rule reaps experiments that will clearly
// never reach a sample.
const (
	winnerConfidence = 90.0
	winnerMinUplift  = 0.10
	killAge          = 30 * 24 * time.Hour
	killMinVisitors  = 100
)

// ScaleAgent and ScaleJobType name the dispatch target for scaling a
// declared winner.
const (
	ScaleAgent   = "experiment_ops"
	ScaleJobType = "scale_winner"
)

// JobDispatcher is the slice of the dispatcher the resolver needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.JobHandle, error)
}

// Resolver sweeps running experiments, applies the decision rule to the
// analyzer's verdict, and transitions state. Terminal transitions are
// conditional writes, so a lost race simply means the other sweep won.
type Resolver struct {
	repo       postgres.ExperimentRepository
	analyzer   analytics.Analyzer
	dispatcher JobDispatcher
	outbox     *outbox.Outbox // nil = disabled
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithInterval(d time.Duration) Option {
	return func(r *Resolver) { r.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithOutbox(o *outbox.Outbox) Option {
	return func(r *Resolver) { r.outbox = o }
}

func NewResolver(
	repo postgres.ExperimentRepository,
	analyzer analytics.Analyzer,
	d JobDispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		repo:       repo,
		analyzer:   analyzer,
		dispatcher: d,
		interval:   5 * time.Minute,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep evaluates every running experiment once. Per-experiment failures
// are logged and isolated; one bad experiment never stops the sweep.
func (r *Resolver) Sweep(ctx context.Context) {
	ctx, span := otel.Tracer("experiment").Start(ctx, "experiment.sweep")
	defer span.End()
	telemetry.ExperimentSweeps.Inc()

	running, err := r.repo.ListRunning(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list running experiments failed")
		r.logger.Error("experiment sweep aborted", slog.String("error", err.Error()))
		return
	}
	span.SetAttributes(attribute.Int("experiments.running", len(running)))

	for _, exp := range running {
		if err := r.resolve(ctx, exp); err != nil {
			r.logger.Error("experiment resolution failed",
				slog.String("experiment_id", exp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, exp *domain.Experiment) error {
	log := r.logger.With(slog.String("experiment_id", exp.ID))
	now := r.now().UTC()

	res, err := r.analyzer.Analyze(ctx, analytics.Counts{
		VisitorsA:    exp.VisitorsA,
		VisitorsB:    exp.VisitorsB,
		ConversionsA: exp.ConversionsA,
		ConversionsB: exp.ConversionsB,
	})
	if err != nil || !res.Available {
		// No verdict: leave the experiment running, confidence untouched,
		// and retry next sweep.
		telemetry.ExperimentResolutions.WithLabelValues("unavailable").Inc()
		log.Warn("analytics unavailable, experiment left running",
			slog.String("error", errText(err)),
		)
		return nil
	}

	if res.Winner != "" && res.Confidence >= winnerConfidence &&
		res.Uplift != nil && *res.Uplift >= winnerMinUplift {
		return r.declareWinner(ctx, exp, res, now, log)
	}

	if now.Sub(exp.StartedAt) > killAge && exp.TotalVisitors() < killMinVisitors {
		return r.kill(ctx, exp, res.Confidence, now, log)
	}

	if err := r.repo.UpdateConfidence(ctx, exp.ID, res.Confidence); err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	telemetry.ExperimentResolutions.WithLabelValues("continued").Inc()
	log.Debug("experiment still running",
		slog.Float64("confidence", res.Confidence),
		slog.Int("total_visitors", exp.TotalVisitors()),
	)
	return nil
}

func (r *Resolver) declareWinner(ctx context.Context, exp *domain.Experiment, res analytics.Result, now time.Time, log *slog.Logger) error {
	decision := fmt.Sprintf("variant %s wins with %.1f%% confidence, %+.1f%% uplift",
		res.Winner, res.Confidence, *res.Uplift*100)

	won, err := r.repo.Resolve(ctx, exp.ID, domain.ExperimentWinnerFound,
		res.Winner, res.Uplift, res.Confidence, decision, now)
	if err != nil {
		return fmt.Errorf("resolve winner_found: %w", err)
	}
	if !won {
		// Another sweep transitioned it first; do not dispatch again.
		log.Info("experiment already resolved elsewhere")
		return nil
	}

	telemetry.ExperimentResolutions.WithLabelValues("winner_found").Inc()
	log.Info("experiment winner declared",
		slog.String("winner", res.Winner),
		slog.Float64("confidence", res.Confidence),
		slog.Float64("uplift", *res.Uplift),
	)

	payload, _ := json.Marshal(map[string]string{
		"experiment_id": exp.ID,
		"winner":        res.Winner,
		"content_id":    exp.ContentID,
	})
	if _, err := r.dispatcher.Dispatch(ctx, dispatcher.Request{
		AgentName:   ScaleAgent,
		JobType:     ScaleJobType,
		Payload:     payload,
		Priority:    2,
		TriggeredBy: domain.TriggerSystem,
	}); err != nil {
		// The experiment is resolved either way; the scale job is
		// best-effort follow-up work.
		log.Error("scale-winner dispatch failed", slog.String("error", err.Error()))
	}

	if r.outbox != nil {
		r.outbox.Publish(outbox.KindWinnerDeclared, exp.ID, map[string]any{
			"winner":     res.Winner,
			"confidence": res.Confidence,
			"uplift":     *res.Uplift,
		})
	}
	return nil
}

func (r *Resolver) kill(ctx context.Context, exp *domain.Experiment, confidence float64, now time.Time, log *slog.Logger) error {
	decision := fmt.Sprintf("killed after %d days with only %d visitors",
		int(now.Sub(exp.StartedAt).Hours()/24), exp.TotalVisitors())

	won, err := r.repo.Resolve(ctx, exp.ID, domain.ExperimentKilled,
		"", nil, confidence, decision, now)
	if err != nil {
		return fmt.Errorf("resolve killed: %w", err)
	}
	if !won {
		log.Info("experiment already resolved elsewhere")
		return nil
	}

	telemetry.ExperimentResolutions.WithLabelValues("killed").Inc()
	log.Info("experiment killed for inconclusiveness",
		slog.Int("total_visitors", exp.TotalVisitors()),
	)
	if r.outbox != nil {
		r.outbox.Publish(outbox.KindExperimentKilled, exp.ID, map[string]any{
			"total_visitors": exp.TotalVisitors(),
			"decision":       decision,
		})
	}
	return nil
}

func errText(err error) string {
	if err == nil {
		return "analyzer reported unavailable"
	}
	return err.Error()
}
