package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/dispatcher"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

type fakeDispatcher struct {
	requests []dispatcher.Request
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatcher.Request) (dispatcher.JobHandle, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return dispatcher.JobHandle{}, f.err
	}
	return dispatcher.JobHandle{JobID: "job-1"}, nil
}

type fakeScheduleRepo struct {
	schedules []*domain.Schedule
	fired     []string
}

func (f *fakeScheduleRepo) Create(context.Context, *domain.Schedule) error { return nil }

func (f *fakeScheduleRepo) List(context.Context) ([]*domain.Schedule, error) {
	return f.schedules, nil
}

func (f *fakeScheduleRepo) Get(context.Context, string) (*domain.Schedule, error) {
	return nil, nil
}

func (f *fakeScheduleRepo) Update(context.Context, *domain.Schedule) error { return nil }

func (f *fakeScheduleRepo) MarkFired(_ context.Context, id string, _, _ time.Time) error {
	f.fired = append(f.fired, id)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScheduler_FiresDueFixedRule(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{}
	s := NewScheduler(d, discardLogger(), WithClock(fixedClock(now)))

	s.ArmFixed([]FixedRule{{
		AgentName:      "seo_demand_capture",
		JobType:        "keyword_refresh",
		CronExpression: "0 * * * *", // hourly
		MaxDailyCost:   25,
	}})

	// First fire time is 13:00; advance past it.
	s.now = fixedClock(now.Add(90 * time.Minute))
	s.Tick(context.Background())

	require.Len(t, d.requests, 1)
	req := d.requests[0]
	assert.Equal(t, "seo_demand_capture", req.AgentName)
	assert.Equal(t, "keyword_refresh", req.JobType)
	assert.Equal(t, domain.TriggerSchedule, req.TriggeredBy)
	assert.InDelta(t, 25.0, req.MaxDailyCost, 1e-9)
}

func TestScheduler_DoesNotFireBeforeDue(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{}
	s := NewScheduler(d, discardLogger(), WithClock(fixedClock(now)))

	s.ArmFixed([]FixedRule{{
		AgentName:      "seo_demand_capture",
		JobType:        "keyword_refresh",
		CronExpression: "0 * * * *",
	}})

	s.Tick(context.Background())
	assert.Empty(t, d.requests)
}

func TestScheduler_AdvancesAfterFire(t *testing.T) {
	now := time.Date(2026, 8, 1, 13, 30, 0, 0, time.UTC)
	d := &fakeDispatcher{}
	s := NewScheduler(d, discardLogger(), WithClock(fixedClock(now.Add(-2*time.Hour))))

	s.ArmFixed([]FixedRule{{
		AgentName:      "seo_demand_capture",
		JobType:        "keyword_refresh",
		CronExpression: "0 * * * *",
	}})

	s.now = fixedClock(now)
	s.Tick(context.Background())
	s.Tick(context.Background())

	// Due once, fired once; the second tick at the same instant is a no-op.
	assert.Len(t, d.requests, 1)
}

func TestScheduler_InvalidCronDoesNotArm(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{}
	s := NewScheduler(d, discardLogger(), WithClock(fixedClock(now)))

	s.ArmFixed([]FixedRule{
		{AgentName: "broken", JobType: "x", CronExpression: "not a cron"},
		{AgentName: "seo_demand_capture", JobType: "keyword_refresh", CronExpression: "0 * * * *"},
	})

	s.now = fixedClock(now.Add(2 * time.Hour))
	s.Tick(context.Background())

	// The bad rule is dropped; the good one still fires.
	require.Len(t, d.requests, 1)
	assert.Equal(t, "seo_demand_capture", d.requests[0].AgentName)
}

func TestScheduler_ReloadArmsEnabledSchedulesOnly(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{}
	repo := &fakeScheduleRepo{schedules: []*domain.Schedule{
		{ID: "s1", AgentName: "content_engine", JobType: "draft_batch", CronExpression: "0 9 * * *", Enabled: true, MaxDailyCost: 15},
		{ID: "s2", AgentName: "content_engine", JobType: "refresh", CronExpression: "0 10 * * *", Enabled: false},
		{ID: "s3", AgentName: "content_engine", JobType: "broken", CronExpression: "nope", Enabled: true},
	}}
	s := NewScheduler(d, discardLogger(),
		WithClock(fixedClock(now)),
		WithScheduleRepository(repo),
	)

	require.NoError(t, s.Reload(context.Background()))

	s.now = fixedClock(now.Add(24 * time.Hour))
	s.Tick(context.Background())

	require.Len(t, d.requests, 1)
	assert.Equal(t, "draft_batch", d.requests[0].JobType)
	assert.Equal(t, []string{"s1"}, repo.fired)
}

func TestScheduler_GuardrailSkipAdvancesRule(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{err: &domain.GuardrailExceededError{
		AgentName: "seo_demand_capture", SpentUSD: 9.5, LimitUSD: 10,
	}}
	s := NewScheduler(d, discardLogger(), WithClock(fixedClock(now)))

	s.ArmFixed([]FixedRule{{
		AgentName:      "seo_demand_capture",
		JobType:        "keyword_refresh",
		CronExpression: "0 * * * *",
		MaxDailyCost:   10,
	}})

	s.now = fixedClock(now.Add(2 * time.Hour))
	s.Tick(context.Background())
	s.Tick(context.Background())

	// One skipped attempt, not retried every tick.
	assert.Len(t, d.requests, 1)
}

func TestScheduler_GuardrailSkipNotLoggedAsFire(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{err: &domain.GuardrailExceededError{
		AgentName: "seo_demand_capture", SpentUSD: 9.5, LimitUSD: 10,
	}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewScheduler(d, logger, WithClock(fixedClock(now)))

	s.ArmFixed([]FixedRule{{
		AgentName:      "seo_demand_capture",
		JobType:        "keyword_refresh",
		CronExpression: "0 * * * *",
		MaxDailyCost:   10,
	}})

	s.now = fixedClock(now.Add(2 * time.Hour))
	s.Tick(context.Background())

	assert.NotContains(t, buf.String(), "schedule fired",
		"a guardrail-skipped rule did not fire")
}

func TestScheduler_PersistedNextRunHonored(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	d := &fakeDispatcher{}
	repo := &fakeScheduleRepo{schedules: []*domain.Schedule{
		{ID: "s1", AgentName: "content_engine", JobType: "draft_batch",
			CronExpression: "0 9 * * *", Enabled: true, NextRunAt: &future},
	}}
	s := NewScheduler(d, discardLogger(),
		WithClock(fixedClock(now)),
		WithScheduleRepository(repo),
	)

	require.NoError(t, s.Reload(context.Background()))

	// Cron alone would fire at 09:00 tomorrow, but the persisted
	// next_run_at two days out wins.
	s.now = fixedClock(now.Add(24 * time.Hour))
	s.Tick(context.Background())
	assert.Empty(t, d.requests)
}
