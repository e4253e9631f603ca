package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/analytics"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/attribution"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/dispatcher"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/postgres"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/queue"
	redisstore "github.com/rohitwanchoo/lsc-marketing-sub000/internal/redis"
)

// JobDispatcher is the slice of the dispatcher the API needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.JobHandle, error)
}

// ScheduleReloader re-arms dynamic schedules after an operator edit.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// API serves the engine's REST surface: job dispatch and observability,
// schedule management, and revenue ingestion.
type API struct {
	store       *queue.Store
	dispatcher  JobDispatcher
	runs        postgres.RunRepository
	schedules   postgres.ScheduleRepository
	attribution *attribution.Engine
	reloader    ScheduleReloader
	states      redisstore.JobStateStore // nil = disabled
	logger      *slog.Logger
}

func NewAPI(
	store *queue.Store,
	d JobDispatcher,
	runs postgres.RunRepository,
	schedules postgres.ScheduleRepository,
	attributionEngine *attribution.Engine,
	reloader ScheduleReloader,
	states redisstore.JobStateStore,
	logger *slog.Logger,
) *API {
	return &API{
		store:       store,
		dispatcher:  d,
		runs:        runs,
		schedules:   schedules,
		attribution: attributionEngine,
		reloader:    reloader,
		states:      states,
		logger:      logger,
	}
}

// Router builds the chi route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(a.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", a.SubmitJob)
		r.Get("/jobs/active", a.ListActiveJobs)
		r.Get("/jobs/waiting", a.ListWaitingJobs)
		r.Get("/jobs/{id}", a.GetJob)
		r.Delete("/jobs/{id}", a.WithdrawJob)
		r.Get("/runs", a.ListRuns)
		r.Get("/schedules", a.ListSchedules)
		r.Post("/schedules", a.CreateSchedule)
		r.Put("/schedules/{id}", a.UpdateSchedule)
		r.Post("/revenue", a.IngestRevenue)
		r.Post("/experiments/sample-size", a.SampleSize)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Readyz)
	return r
}

// SubmitJobRequest is the JSON body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	AgentName string          `json:"agent_name"`
	JobType   string          `json:"job_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  int             `json:"priority,omitempty"`
}

// SubmitJobResponse is the 202 response body.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// SubmitJob handles POST /api/v1/jobs — a manual dispatch.
func (a *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("httpapi").Start(r.Context(), "httpapi.submit_job")
	defer span.End()

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AgentName) == "" {
		writeError(w, http.StatusBadRequest, "field 'agent_name' is required")
		return
	}
	if strings.TrimSpace(req.JobType) == "" {
		writeError(w, http.StatusBadRequest, "field 'job_type' is required")
		return
	}

	span.SetAttributes(
		attribute.String("job.agent", req.AgentName),
		attribute.String("job.type", req.JobType),
	)

	handle, err := a.dispatcher.Dispatch(ctx, dispatcher.Request{
		AgentName:   req.AgentName,
		JobType:     req.JobType,
		Payload:     req.Payload,
		Priority:    req.Priority,
		TriggeredBy: domain.TriggerManual,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID: handle.JobID,
		State: string(domain.JobWaiting),
	})
}

// GetJob handles GET /api/v1/jobs/{id}. The queue store answers for
// waiting and active jobs; terminal jobs fall back to the Redis mirror.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if job, ok := a.store.Lookup(jobID); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}

	if a.states != nil {
		job, err := a.states.GetJobMeta(r.Context(), jobID)
		if err == nil {
			if state, serr := a.states.GetState(r.Context(), jobID); serr == nil {
				job.State = state
			}
			writeJSON(w, http.StatusOK, job)
			return
		}
	}

	writeError(w, http.StatusNotFound, "job not found")
}

// WithdrawJob handles DELETE /api/v1/jobs/{id}. Only waiting jobs can be
// withdrawn; an active job runs to completion.
func (a *API) WithdrawJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if err := a.store.Withdraw(jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	a.logger.Info("job withdrawn", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// ListActiveJobs handles GET /api/v1/jobs/active.
func (a *API) ListActiveJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": a.store.ActiveJobs()})
}

// ListWaitingJobs handles GET /api/v1/jobs/waiting?agent=<name>.
func (a *API) ListWaitingJobs(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	writeJSON(w, http.StatusOK, map[string]any{"jobs": a.store.WaitingJobs(agent)})
}

// ListRuns handles GET /api/v1/runs?agent=<name>&limit=<n>.
func (a *API) ListRuns(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'agent' is required")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := a.runs.ListRecent(r.Context(), agent, limit)
	if err != nil {
		a.logger.Error("list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	// Rolling 24h failure rate rides along so the dashboard can flag a
	// misbehaving agent without a second query.
	rate, err := a.runs.FailureRate(r.Context(), agent, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		a.logger.Error("failure rate query failed", slog.String("error", err.Error()))
		rate = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":             runs,
		"failure_rate_24h": rate,
	})
}

// ListSchedules handles GET /api/v1/schedules.
func (a *API) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := a.schedules.List(r.Context())
	if err != nil {
		a.logger.Error("list schedules failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// ScheduleRequest is the JSON body for creating or updating a schedule.
type ScheduleRequest struct {
	AgentName      string          `json:"agent_name,omitempty"`
	JobType        string          `json:"job_type,omitempty"`
	CronExpression string          `json:"cron_expression"`
	Enabled        bool            `json:"enabled"`
	MaxDailyCost   float64         `json:"max_daily_cost"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// CreateSchedule handles POST /api/v1/schedules.
func (a *API) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AgentName) == "" || strings.TrimSpace(req.JobType) == "" {
		writeError(w, http.StatusBadRequest, "fields 'agent_name' and 'job_type' are required")
		return
	}
	if _, err := cron.ParseStandard(req.CronExpression); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}
	if req.MaxDailyCost < 0 {
		writeError(w, http.StatusBadRequest, "max_daily_cost must not be negative")
		return
	}

	sched := &domain.Schedule{
		AgentName:      req.AgentName,
		JobType:        req.JobType,
		CronExpression: req.CronExpression,
		Enabled:        req.Enabled,
		MaxDailyCost:   req.MaxDailyCost,
		Payload:        req.Payload,
	}
	if err := a.schedules.Create(r.Context(), sched); err != nil {
		a.logger.Error("create schedule failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	a.reloadSchedules(r.Context())
	writeJSON(w, http.StatusCreated, sched)
}

// UpdateSchedule handles PUT /api/v1/schedules/{id}. The cron expression
// is re-validated before the write so a bad rule is never persisted.
func (a *API) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := cron.ParseStandard(req.CronExpression); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}
	if req.MaxDailyCost < 0 {
		writeError(w, http.StatusBadRequest, "max_daily_cost must not be negative")
		return
	}

	sched := &domain.Schedule{
		ID:             id,
		CronExpression: req.CronExpression,
		Enabled:        req.Enabled,
		MaxDailyCost:   req.MaxDailyCost,
	}
	if err := a.schedules.Update(r.Context(), sched); err != nil {
		writeDomainError(w, err)
		return
	}
	a.reloadSchedules(r.Context())

	updated, err := a.schedules.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) reloadSchedules(ctx context.Context) {
	if a.reloader == nil {
		return
	}
	if err := a.reloader.Reload(ctx); err != nil {
		a.logger.Error("schedule reload failed", slog.String("error", err.Error()))
	}
}

// RevenueRequest is the JSON body for POST /api/v1/revenue, supplied by
// the billing collaborator.
type RevenueRequest struct {
	LeadID     string     `json:"lead_id"`
	AmountUSD  float64    `json:"amount_usd"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Model      string     `json:"model,omitempty"`
}

// IngestRevenue handles POST /api/v1/revenue: records the event and
// returns the computed attribution.
func (a *API) IngestRevenue(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("httpapi").Start(r.Context(), "httpapi.ingest_revenue")
	defer span.End()

	var req RevenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.LeadID) == "" {
		writeError(w, http.StatusBadRequest, "field 'lead_id' is required")
		return
	}
	if req.AmountUSD <= 0 {
		writeError(w, http.StatusBadRequest, "amount_usd must be positive")
		return
	}

	occurred := time.Now().UTC()
	if req.OccurredAt != nil {
		occurred = req.OccurredAt.UTC()
	}
	model := domain.AttributionModel(req.Model)
	if req.Model != "" && !model.Valid() {
		writeError(w, http.StatusBadRequest, "unknown attribution model "+req.Model)
		return
	}
	if req.Model == "" {
		model = domain.ModelUShaped
	}

	ev := &domain.RevenueEvent{
		LeadID:     req.LeadID,
		AmountUSD:  req.AmountUSD,
		OccurredAt: occurred,
	}
	if err := a.attribution.CreateEvent(ctx, ev); err != nil {
		a.logger.Error("create revenue event failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to record revenue event")
		return
	}

	attr, err := a.attribution.Attribute(ctx, ev.ID, model)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attr)
}

// SampleSizeRequest is the JSON body for POST /api/v1/experiments/sample-size.
type SampleSizeRequest struct {
	BaselineRate      float64  `json:"baseline_rate"`
	MinimumDetectable *float64 `json:"minimum_detectable,omitempty"`
	Power             *float64 `json:"power,omitempty"`
	Significance      *float64 `json:"significance,omitempty"`
}

// SampleSizeResponse reports how many visitors each variant needs before
// the results are worth reading.
type SampleSizeResponse struct {
	SampleSizePerVariant int     `json:"sample_size_per_variant"`
	TotalSampleSize      int     `json:"total_sample_size"`
	BaselineRate         float64 `json:"baseline_rate"`
	MinimumDetectable    float64 `json:"minimum_detectable"`
	Power                float64 `json:"power"`
	Significance         float64 `json:"significance"`
}

// SampleSize handles POST /api/v1/experiments/sample-size: experiment
// sizing ahead of launch so the dashboard can warn against underpowered
// tests.
func (a *API) SampleSize(w http.ResponseWriter, r *http.Request) {
	var req SampleSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BaselineRate <= 0 || req.BaselineRate >= 1 {
		writeError(w, http.StatusBadRequest, "baseline_rate must be between 0 and 1 exclusive")
		return
	}

	minUplift := 0.10
	if req.MinimumDetectable != nil {
		minUplift = *req.MinimumDetectable
	}
	power := 0.80
	if req.Power != nil {
		power = *req.Power
	}
	alpha := 0.05
	if req.Significance != nil {
		alpha = *req.Significance
	}
	if minUplift <= 0 {
		writeError(w, http.StatusBadRequest, "minimum_detectable must be positive")
		return
	}
	if power <= 0 || power >= 1 || alpha <= 0 || alpha >= 1 {
		writeError(w, http.StatusBadRequest, "power and significance must be between 0 and 1 exclusive")
		return
	}

	n := analytics.RequiredSampleSize(req.BaselineRate, minUplift, alpha, power)
	writeJSON(w, http.StatusOK, SampleSizeResponse{
		SampleSizePerVariant: n,
		TotalSampleSize:      n * 2,
		BaselineRate:         req.BaselineRate,
		MinimumDetectable:    minUplift,
		Power:                power,
		Significance:         alpha,
	})
}

// Healthz handles GET /healthz.
func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz — checks the Redis mirror when configured.
func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	if a.states != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.states.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeDomainError maps typed domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation  *domain.ValidationError
		unknown     *domain.UnknownAgentError
		noHandler   *domain.HandlerNotFoundError
		guardrail   *domain.GuardrailExceededError
		jobMissing  *domain.JobNotFoundError
		evMissing   *domain.RevenueEventNotFoundError
		expMissing  *domain.ExperimentNotFoundError
		attributed  *domain.AlreadyAttributedError
		unavailable *domain.AnalyticsUnavailableError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &unknown), errors.As(err, &noHandler):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &guardrail):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &jobMissing), errors.As(err, &evMissing), errors.As(err, &expMissing):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &attributed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
