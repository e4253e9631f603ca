package domain

import "fmt"

// ValidationError is returned when a dispatch names an unknown agent or job
// type, or carries an out-of-range field. No state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownAgentError is returned when no queue exists for the target agent.
type UnknownAgentError struct {
	AgentName string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("no queue registered for agent %q", e.AgentName)
}

// HandlerNotFoundError is returned when no handler is registered for an
// (agent, job type) pair.
type HandlerNotFoundError struct {
	AgentName string
	JobType   string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for agent %q job type %q", e.AgentName, e.JobType)
}

// GuardrailExceededError is returned when a scheduled dispatch would push an
// agent past its daily cost ceiling. The dispatch is skipped, not retried.
type GuardrailExceededError struct {
	AgentName string
	SpentUSD  float64
	LimitUSD  float64
}

func (e *GuardrailExceededError) Error() string {
	return fmt.Sprintf("daily cost guardrail for agent %q: spent %.2f of %.2f USD",
		e.AgentName, e.SpentUSD, e.LimitUSD)
}

// JobNotFoundError is returned when a job ID does not exist in the queue
// store, or is not in the state the operation requires.
type JobNotFoundError struct {
	JobID string
	State JobState // required state, empty when any would do
}

func (e *JobNotFoundError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("job %s not found in state %q", e.JobID, e.State)
	}
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// RevenueEventNotFoundError is returned when an attribution request
// references a missing revenue event.
type RevenueEventNotFoundError struct {
	EventID string
}

func (e *RevenueEventNotFoundError) Error() string {
	return fmt.Sprintf("revenue event not found: %s", e.EventID)
}

// AlreadyAttributedError is returned when a revenue event has been
// attributed before; attribution happens exactly once.
type AlreadyAttributedError struct {
	EventID string
}

func (e *AlreadyAttributedError) Error() string {
	return fmt.Sprintf("revenue event %s already attributed", e.EventID)
}

// ExperimentNotFoundError is returned when an experiment ID does not exist.
type ExperimentNotFoundError struct {
	ExperimentID string
}

func (e *ExperimentNotFoundError) Error() string {
	return fmt.Sprintf("experiment not found: %s", e.ExperimentID)
}

// AnalyticsUnavailableError is returned when the statistical capability
// cannot produce a result; the experiment stays running and is retried on
// the next sweep.
type AnalyticsUnavailableError struct {
	Cause error
}

func (e *AnalyticsUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("analytics unavailable: %v", e.Cause)
	}
	return "analytics unavailable"
}

func (e *AnalyticsUnavailableError) Unwrap() error { return e.Cause }

// InvalidScheduleError is returned when a schedule's cron expression does
// not parse. The schedule is never armed; others are unaffected.
type InvalidScheduleError struct {
	ScheduleID string
	Expression string
	Cause      error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("schedule %s: bad cron expression %q: %v", e.ScheduleID, e.Expression, e.Cause)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Cause }
