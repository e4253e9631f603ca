package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// ExperimentRepository owns experiment state. Resolve is the only path to a
// terminal status and is conditioned on the row still being running, so two
// concurrent sweeps cannot race into conflicting terminal states.
type ExperimentRepository interface {
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	ListRunning(ctx context.Context) ([]*domain.Experiment, error)
	UpdateConfidence(ctx context.Context, id string, confidence float64) error
	// Resolve transitions running → status and returns whether this call won
	// the transition. false with a nil error means another sweep got there
	// first (or the experiment was never running).
	Resolve(ctx context.Context, id string, status domain.ExperimentStatus,
		winner string, uplift *float64, confidence float64, decision string, endedAt time.Time) (bool, error)
}

type experimentRepository struct {
	pool *pgxpool.Pool
}

// NewExperimentRepository wraps a pgxpool with the ExperimentRepository interface.
func NewExperimentRepository(pool *pgxpool.Pool) ExperimentRepository {
	return &experimentRepository{pool: pool}
}

const experimentColumns = `
	id, status, visitors_a, visitors_b, conversions_a, conversions_b,
	revenue_a, revenue_b, confidence, winner, winner_uplift, agent_decision,
	content_id, started_at, ended_at`

func (r *experimentRepository) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ExperimentNotFoundError{ExperimentID: id}
		}
		return nil, err
	}
	return exp, nil
}

func (r *experimentRepository) ListRunning(ctx context.Context) ([]*domain.Experiment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE status = 'running' ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list running experiments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

func (r *experimentRepository) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE experiments
		SET confidence = $1
		WHERE id = $2 AND status = 'running'
	`, confidence, id)
	if err != nil {
		return fmt.Errorf("update confidence for experiment %s: %w", id, err)
	}
	return nil
}

func (r *experimentRepository) Resolve(ctx context.Context, id string, status domain.ExperimentStatus,
	winner string, uplift *float64, confidence float64, decision string, endedAt time.Time) (bool, error) {

	tag, err := r.pool.Exec(ctx, `
		UPDATE experiments
		SET status = $1, winner = $2, winner_uplift = $3, confidence = $4,
		    agent_decision = $5, ended_at = $6
		WHERE id = $7 AND status = 'running'
	`, string(status), winner, uplift, confidence, decision, endedAt, id)
	if err != nil {
		return false, fmt.Errorf("resolve experiment %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanExperiment(row interface{ Scan(...any) error }) (*domain.Experiment, error) {
	var e domain.Experiment
	var status string
	err := row.Scan(
		&e.ID, &status, &e.VisitorsA, &e.VisitorsB, &e.ConversionsA, &e.ConversionsB,
		&e.RevenueA, &e.RevenueB, &e.Confidence, &e.Winner, &e.WinnerUplift,
		&e.AgentDecision, &e.ContentID, &e.StartedAt, &e.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan experiment: %w", err)
	}
	e.Status = domain.ExperimentStatus(status)
	return &e, nil
}
