package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// ScheduleRepository persists dynamic dispatch rules so they can be added
// and disabled without redeploying the scheduler.
type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) error
	List(ctx context.Context) ([]*domain.Schedule, error)
	Get(ctx context.Context, id string) (*domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	MarkFired(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

type scheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository wraps a pgxpool with the ScheduleRepository interface.
func NewScheduleRepository(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepository{pool: pool}
}

func (r *scheduleRepository) Create(ctx context.Context, s *domain.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedules
			(id, agent_name, job_type, cron_expression, enabled, max_daily_cost, payload)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.AgentName, s.JobType, s.CronExpression, s.Enabled, s.MaxDailyCost, s.Payload)
	if err != nil {
		return fmt.Errorf("create schedule %s: %w", s.ID, err)
	}
	return nil
}

func (r *scheduleRepository) List(ctx context.Context) ([]*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_name, job_type, cron_expression, enabled, max_daily_cost,
		       payload, last_run_at, next_run_at
		FROM schedules
		ORDER BY agent_name, job_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *scheduleRepository) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, agent_name, job_type, cron_expression, enabled, max_daily_cost,
		       payload, last_run_at, next_run_at
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *scheduleRepository) Update(ctx context.Context, s *domain.Schedule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET cron_expression = $1, enabled = $2, max_daily_cost = $3
		WHERE id = $4
	`, s.CronExpression, s.Enabled, s.MaxDailyCost, s.ID)
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ValidationError{Field: "schedule_id", Reason: "unknown schedule " + s.ID}
	}
	return nil
}

func (r *scheduleRepository) MarkFired(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET last_run_at = $1, next_run_at = $2
		WHERE id = $3
	`, lastRun, nextRun, id)
	if err != nil {
		return fmt.Errorf("mark schedule %s fired: %w", id, err)
	}
	return nil
}

func scanSchedule(row interface{ Scan(...any) error }) (*domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(
		&s.ID, &s.AgentName, &s.JobType, &s.CronExpression, &s.Enabled,
		&s.MaxDailyCost, &s.Payload, &s.LastRunAt, &s.NextRunAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ValidationError{Field: "schedule_id", Reason: "unknown schedule"}
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}
