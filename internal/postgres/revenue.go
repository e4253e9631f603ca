package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// AttributionRepository persists revenue events, their touchpoint history,
// and the computed attribution. SaveAttribution is the single transactional
// write in the subsystem: attribution rows, aggregate increments, and the
// event's attributed flag commit together or not at all.
type AttributionRepository interface {
	CreateRevenueEvent(ctx context.Context, ev *domain.RevenueEvent) error
	GetRevenueEvent(ctx context.Context, id string) (*domain.RevenueEvent, error)
	ListTouchpoints(ctx context.Context, leadID string) ([]domain.Touchpoint, error)
	SaveAttribution(ctx context.Context, a *domain.Attribution) error
	GetAttribution(ctx context.Context, eventID string) (*domain.Attribution, error)
}

type attributionRepository struct {
	pool *pgxpool.Pool
}

// NewAttributionRepository wraps a pgxpool with the AttributionRepository interface.
func NewAttributionRepository(pool *pgxpool.Pool) AttributionRepository {
	return &attributionRepository{pool: pool}
}

func (r *attributionRepository) CreateRevenueEvent(ctx context.Context, ev *domain.RevenueEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO revenue_events (id, lead_id, amount_usd, occurred_at, attributed)
		VALUES ($1, $2, $3, $4, FALSE)
	`, ev.ID, ev.LeadID, ev.AmountUSD, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("create revenue event %s: %w", ev.ID, err)
	}
	return nil
}

func (r *attributionRepository) GetRevenueEvent(ctx context.Context, id string) (*domain.RevenueEvent, error) {
	var ev domain.RevenueEvent
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, amount_usd, occurred_at, attributed
		FROM revenue_events
		WHERE id = $1
	`, id).Scan(&ev.ID, &ev.LeadID, &ev.AmountUSD, &ev.OccurredAt, &ev.Attributed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.RevenueEventNotFoundError{EventID: id}
		}
		return nil, fmt.Errorf("get revenue event %s: %w", id, err)
	}
	return &ev, nil
}

// ListTouchpoints returns the lead's full interaction history ordered by
// time; the attribution model depends on this ordering.
func (r *attributionRepository) ListTouchpoints(ctx context.Context, leadID string) ([]domain.Touchpoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, event_type, channel,
		       COALESCE(keyword_id, ''), COALESCE(content_id, ''), occurred_at
		FROM touchpoints
		WHERE lead_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list touchpoints for lead %s: %w", leadID, err)
	}
	defer rows.Close()

	var out []domain.Touchpoint
	for rows.Next() {
		var tp domain.Touchpoint
		if err := rows.Scan(&tp.ID, &tp.LeadID, &tp.EventType, &tp.Channel,
			&tp.KeywordID, &tp.ContentID, &tp.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan touchpoint: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

func (r *attributionRepository) SaveAttribution(ctx context.Context, a *domain.Attribution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attribution tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Claim the event. Zero rows means a concurrent (or earlier) attribution
	// already took it: exactly-once.
	tag, err := tx.Exec(ctx, `
		UPDATE revenue_events SET attributed = TRUE
		WHERE id = $1 AND attributed = FALSE
	`, a.RevenueEventID)
	if err != nil {
		return fmt.Errorf("claim revenue event %s: %w", a.RevenueEventID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.AlreadyAttributedError{EventID: a.RevenueEventID}
	}

	for _, e := range a.Entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attribution_entries
				(id, revenue_event_id, touchpoint_id, model, attributed_usd, weight, position, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New().String(), a.RevenueEventID, e.TouchpointID, string(a.Model),
			e.AttributedUSD, e.Weight, string(e.Position), a.ComputedAt); err != nil {
			return fmt.Errorf("insert attribution entry: %w", err)
		}

		if e.KeywordID != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO keyword_aggregates (keyword_id, attributed_usd, touch_count)
				VALUES ($1, $2, 1)
				ON CONFLICT (keyword_id) DO UPDATE
				SET attributed_usd = keyword_aggregates.attributed_usd + EXCLUDED.attributed_usd,
				    touch_count    = keyword_aggregates.touch_count + 1
			`, e.KeywordID, e.AttributedUSD); err != nil {
				return fmt.Errorf("apply keyword aggregate %s: %w", e.KeywordID, err)
			}
		}
		if e.ContentID != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO content_aggregates (content_id, attributed_usd, touch_count)
				VALUES ($1, $2, 1)
				ON CONFLICT (content_id) DO UPDATE
				SET attributed_usd = content_aggregates.attributed_usd + EXCLUDED.attributed_usd,
				    touch_count    = content_aggregates.touch_count + 1
			`, e.ContentID, e.AttributedUSD); err != nil {
				return fmt.Errorf("apply content aggregate %s: %w", e.ContentID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attribution for event %s: %w", a.RevenueEventID, err)
	}
	return nil
}

func (r *attributionRepository) GetAttribution(ctx context.Context, eventID string) (*domain.Attribution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ae.touchpoint_id, ae.model, ae.attributed_usd, ae.weight, ae.position,
		       ae.computed_at, tp.channel, COALESCE(tp.keyword_id, ''), COALESCE(tp.content_id, '')
		FROM attribution_entries ae
		JOIN touchpoints tp ON tp.id = ae.touchpoint_id
		WHERE ae.revenue_event_id = $1
		ORDER BY tp.occurred_at ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("get attribution for event %s: %w", eventID, err)
	}
	defer rows.Close()

	a := &domain.Attribution{RevenueEventID: eventID}
	for rows.Next() {
		var e domain.AttributionEntry
		var model, position string
		if err := rows.Scan(&e.TouchpointID, &model, &e.AttributedUSD, &e.Weight,
			&position, &a.ComputedAt, &e.Channel, &e.KeywordID, &e.ContentID); err != nil {
			return nil, fmt.Errorf("scan attribution entry: %w", err)
		}
		e.Position = domain.TouchPosition(position)
		a.Model = domain.AttributionModel(model)
		a.Entries = append(a.Entries, e)
	}
	return a, rows.Err()
}
