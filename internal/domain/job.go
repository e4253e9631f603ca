package domain

import (
	"encoding/json"
	"time"
)

// JobState represents the states a job can be in.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Trigger records why a job was dispatched.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerSystem   Trigger = "system"
)

const (
	// PriorityDefault is used when a dispatch omits priority.
	PriorityDefault = 5
	PriorityMin     = 1
	PriorityMax     = 10
)

// Job is a unit of agent work owned by the queue store while waiting or
// active. Lower Priority executes first; ties break FIFO on QueuedAt.
type Job struct {
	ID          string          `json:"id"`
	AgentName   string          `json:"agent_name"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	TriggeredBy Trigger         `json:"triggered_by"`
	QueuedAt    time.Time       `json:"queued_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// RunStatus is the terminal outcome recorded in the run ledger.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Outcome is what an agent handler reports back on success.
type Outcome struct {
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// AgentRun is the run ledger's unit of storage. Immutable once written; the
// sole source of truth for budget accounting and failure-rate alerting.
type AgentRun struct {
	ID          string    `json:"id"`
	AgentName   string    `json:"agent_name"`
	JobType     string    `json:"job_type"`
	Status      RunStatus `json:"status"`
	TokensUsed  int       `json:"tokens_used"`
	CostUSD     float64   `json:"cost_usd"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	TriggeredBy Trigger   `json:"triggered_by"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
