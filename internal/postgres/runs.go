package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// RunRepository is the run ledger: append-only agent execution history.
// Records are immutable once written; the cost sum backs the dispatch
// guardrail and the list backs the dashboard's history view.
type RunRepository interface {
	Record(ctx context.Context, run *domain.AgentRun) error
	SumCostSince(ctx context.Context, agent string, since time.Time) (float64, error)
	ListRecent(ctx context.Context, agent string, limit int) ([]*domain.AgentRun, error)
	FailureRate(ctx context.Context, agent string, since time.Time) (float64, error)
}

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wraps a pgxpool with the RunRepository interface.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) Record(ctx context.Context, run *domain.AgentRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_runs
			(id, agent_name, job_type, status, tokens_used, cost_usd, duration_ms,
			 error, triggered_by, started_at, completed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID, run.AgentName, run.JobType, string(run.Status),
		run.TokensUsed, run.CostUSD, run.DurationMs,
		run.Error, string(run.TriggeredBy), run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// SumCostSince reads a consistent snapshot of the agent's spend; it is not
// linearizable with concurrent writes, which the guardrail tolerates.
func (r *runRepository) SumCostSince(ctx context.Context, agent string, since time.Time) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM agent_runs
		WHERE agent_name = $1 AND completed_at >= $2
	`, agent, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum cost for agent %s: %w", agent, err)
	}
	return sum, nil
}

func (r *runRepository) ListRecent(ctx context.Context, agent string, limit int) ([]*domain.AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, agent_name, job_type, status, tokens_used, cost_usd, duration_ms,
		       error, triggered_by, started_at, completed_at
		FROM agent_runs`
	args := []any{}
	if agent != "" {
		query += ` WHERE agent_name = $1 ORDER BY completed_at DESC LIMIT $2`
		args = append(args, agent, limit)
	} else {
		query += ` ORDER BY completed_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.AgentRun
	for rows.Next() {
		var run domain.AgentRun
		var status, trigger string
		if err := rows.Scan(
			&run.ID, &run.AgentName, &run.JobType, &status,
			&run.TokensUsed, &run.CostUSD, &run.DurationMs,
			&run.Error, &trigger, &run.StartedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		run.TriggeredBy = domain.Trigger(trigger)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *runRepository) FailureRate(ctx context.Context, agent string, since time.Time) (float64, error) {
	var total, failed int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'failed')
		FROM agent_runs
		WHERE agent_name = $1 AND completed_at >= $2
	`, agent, since).Scan(&total, &failed)
	if err != nil {
		return 0, fmt.Errorf("failure rate for agent %s: %w", agent, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}
