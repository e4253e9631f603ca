package attribution

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/postgres"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/telemetry"
)

// Engine computes multi-touch revenue splits and applies them
// transactionally through the attribution repository.
type Engine struct {
	repo   postgres.AttributionRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(repo postgres.AttributionRepository, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, logger: logger, now: time.Now}
}

// CreateEvent records a revenue event supplied by the billing
// collaborator. The event starts unattributed.
func (e *Engine) CreateEvent(ctx context.Context, ev *domain.RevenueEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now().UTC()
	}
	return e.repo.CreateRevenueEvent(ctx, ev)
}

// Attribute loads the revenue event and its lead's touchpoint history,
// computes the weighted split, and persists it. Attribution is computed
// once per event: a second call is a logged no-op. A write failure rolls
// the whole attribution back, leaving the event safe to retry.
func (e *Engine) Attribute(ctx context.Context, eventID string, model domain.AttributionModel) (*domain.Attribution, error) {
	ctx, span := otel.Tracer("attribution").Start(ctx, "attribution.attribute")
	defer span.End()
	span.SetAttributes(
		attribute.String("revenue_event.id", eventID),
		attribute.String("attribution.model", string(model)),
	)

	if !model.Valid() {
		model = domain.ModelUShaped
	}

	log := e.logger.With(
		slog.String("revenue_event_id", eventID),
		slog.String("model", string(model)),
	)

	ev, err := e.repo.GetRevenueEvent(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revenue event lookup failed")
		telemetry.AttributionFailures.Inc()
		return nil, err
	}
	if ev.Attributed {
		log.Info("revenue event already attributed, skipping")
		return e.repo.GetAttribution(ctx, eventID)
	}

	touches, err := e.repo.ListTouchpoints(ctx, ev.LeadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "touchpoint load failed")
		telemetry.AttributionFailures.Inc()
		return nil, err
	}

	attr := Compute(ev, touches, model, e.now().UTC())

	if err := e.repo.SaveAttribution(ctx, attr); err != nil {
		var already *domain.AlreadyAttributedError
		if errors.As(err, &already) {
			// Lost a race with a concurrent attribution of the same event.
			log.Info("revenue event attributed concurrently, skipping")
			return e.repo.GetAttribution(ctx, eventID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "attribution write failed")
		telemetry.AttributionFailures.Inc()
		return nil, err
	}

	telemetry.AttributionEvents.WithLabelValues(string(model)).Inc()
	log.Info("revenue attributed",
		slog.Float64("amount_usd", ev.AmountUSD),
		slog.Float64("attributed_usd", attr.TotalAttributed()),
		slog.Int("touchpoints", len(touches)),
	)
	return attr, nil
}

// Compute builds the attribution split without persisting it. A lead
// with no touchpoint history yields an empty attribution so the event
// is still marked handled.
func Compute(ev *domain.RevenueEvent, touches []domain.Touchpoint, model domain.AttributionModel, computedAt time.Time) *domain.Attribution {
	attr := &domain.Attribution{
		RevenueEventID: ev.ID,
		Model:          model,
		AmountUSD:      ev.AmountUSD,
		ComputedAt:     computedAt,
	}

	weights := Weights(model, touches)
	n := len(touches)
	for i, tp := range touches {
		attr.Entries = append(attr.Entries, domain.AttributionEntry{
			TouchpointID:  tp.ID,
			AttributedUSD: roundCents(ev.AmountUSD * weights[i]),
			Weight:        weights[i],
			Position:      Position(i, n),
			Channel:       tp.Channel,
			KeywordID:     tp.KeywordID,
			ContentID:     tp.ContentID,
		})
	}
	return attr
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
