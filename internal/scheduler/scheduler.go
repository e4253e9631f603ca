package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/dispatcher"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/postgres"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/telemetry"
)

const (
	leaderKey = "scheduler:leader"
	leaderTTL = 30 * time.Second
)

// JobDispatcher is the slice of the dispatcher the scheduler needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.JobHandle, error)
}

// FixedRule is a schedule wired in at startup. Unlike dynamic rules it
// has no persisted identity and cannot be edited at runtime.
type FixedRule struct {
	AgentName      string
	JobType        string
	CronExpression string
	Payload        json.RawMessage
	MaxDailyCost   float64
}

// armedRule is a parsed, ready-to-fire rule. scheduleID is empty for
// fixed rules.
type armedRule struct {
	scheduleID   string
	agentName    string
	jobType      string
	expr         string
	schedule     cron.Schedule
	payload      json.RawMessage
	maxDailyCost float64
	nextRun      time.Time
}

// Scheduler fires dispatch calls for due rules. With a Redis client
// configured, only the elected leader instance fires; without one the
// scheduler assumes it is the sole instance.
type Scheduler struct {
	dispatcher JobDispatcher
	repo       postgres.ScheduleRepository // nil = dynamic rules disabled
	redis      *redis.Client               // nil = single instance
	instanceID string
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	fixed   []armedRule
	dynamic []armedRule
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLeaderElection(client *redis.Client, instanceID string) Option {
	return func(s *Scheduler) { s.redis = client; s.instanceID = instanceID }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithScheduleRepository(repo postgres.ScheduleRepository) Option {
	return func(s *Scheduler) { s.repo = repo }
}

func NewScheduler(d JobDispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		dispatcher: d,
		interval:   15 * time.Second,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ArmFixed parses and arms startup rules. A rule with an invalid cron
// expression is logged and dropped; the rest are armed normally.
func (s *Scheduler) ArmFixed(rules []FixedRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, r := range rules {
		armed, err := s.arm("", r.AgentName, r.JobType, r.CronExpression, r.Payload, r.MaxDailyCost, nil, now)
		if err != nil {
			s.logger.Error("fixed rule not armed", slog.String("error", err.Error()))
			continue
		}
		s.fixed = append(s.fixed, armed)
	}
}

// Reload replaces the dynamic rule set from persisted storage. Called at
// boot and after an operator edits a schedule. Disabled and invalid
// rules are skipped without affecting the others.
func (s *Scheduler) Reload(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	schedules, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	armed := make([]armedRule, 0, len(schedules))
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		rule, err := s.arm(sched.ID, sched.AgentName, sched.JobType, sched.CronExpression,
			sched.Payload, sched.MaxDailyCost, sched.NextRunAt, now)
		if err != nil {
			s.logger.Error("schedule not armed", slog.String("error", err.Error()))
			continue
		}
		armed = append(armed, rule)
	}

	s.mu.Lock()
	s.dynamic = armed
	s.mu.Unlock()

	s.logger.Info("dynamic schedules loaded",
		slog.Int("armed", len(armed)),
		slog.Int("total", len(schedules)),
	)
	return nil
}

// arm validates the cron expression and computes the first fire time.
// A persisted nextRun in the future is honored so reloads do not reset
// the cadence.
func (s *Scheduler) arm(
	id, agent, jobType, expr string,
	payload json.RawMessage,
	maxDailyCost float64,
	persistedNext *time.Time,
	now time.Time,
) (armedRule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		telemetry.SchedulerInvalidRules.Inc()
		return armedRule{}, &domain.InvalidScheduleError{ScheduleID: id, Expression: expr, Cause: err}
	}

	next := schedule.Next(now)
	if persistedNext != nil && !persistedNext.IsZero() {
		next = *persistedNext
	}
	return armedRule{
		scheduleID:   id,
		agentName:    agent,
		jobType:      jobType,
		expr:         expr,
		schedule:     schedule,
		payload:      payload,
		maxDailyCost: maxDailyCost,
		nextRun:      next,
	}, nil
}

// Run is the main loop: tries to become leader, then fires due rules.
// Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass. Exported so the serve command can
// trigger an immediate pass after a reload.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.acquireOrRenewLeadership(ctx) {
		return
	}
	s.fireDue(ctx)
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance
// is the leader. Without Redis configured the instance always leads.
func (s *Scheduler) acquireOrRenewLeadership(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}

	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired scheduler leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Already set — renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.fixed {
		s.fireRule(ctx, &s.fixed[i], now)
	}
	for i := range s.dynamic {
		s.fireRule(ctx, &s.dynamic[i], now)
	}
}

func (s *Scheduler) fireRule(ctx context.Context, rule *armedRule, now time.Time) {
	if rule.nextRun.After(now) {
		return
	}

	log := s.logger.With(
		slog.String("agent", rule.agentName),
		slog.String("job_type", rule.jobType),
	)

	_, err := s.dispatcher.Dispatch(ctx, dispatcher.Request{
		AgentName:    rule.agentName,
		JobType:      rule.jobType,
		Payload:      rule.payload,
		TriggeredBy:  domain.TriggerSchedule,
		MaxDailyCost: rule.maxDailyCost,
	})
	rule.nextRun = rule.schedule.Next(now)

	var guardrail *domain.GuardrailExceededError
	switch {
	case err == nil:
		telemetry.SchedulerFires.WithLabelValues(rule.agentName).Inc()
		log.Info("schedule fired", slog.Time("next_run", rule.nextRun))
	case errors.As(err, &guardrail):
		// Guardrail skips are already counted and logged by the dispatcher.
		// The rule still advances so it is re-evaluated next fire, not
		// every tick.
	default:
		log.Error("scheduled dispatch failed", slog.String("error", err.Error()))
	}

	if rule.scheduleID != "" && s.repo != nil {
		if err := s.repo.MarkFired(ctx, rule.scheduleID, now, rule.nextRun); err != nil {
			log.Error("failed to persist fire time", slog.String("error", err.Error()))
		}
	}
}
