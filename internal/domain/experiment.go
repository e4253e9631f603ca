package domain

import "time"

// ExperimentStatus transitions are monotonic and one-directional:
// running → winner_found | killed | completed. No transition leaves a
// terminal state.
type ExperimentStatus string

const (
	ExperimentRunning     ExperimentStatus = "running"
	ExperimentWinnerFound ExperimentStatus = "winner_found"
	ExperimentKilled      ExperimentStatus = "killed"
	ExperimentCompleted   ExperimentStatus = "completed"
)

// IsTerminal returns true once an experiment can no longer be re-evaluated.
func (s ExperimentStatus) IsTerminal() bool {
	return s == ExperimentWinnerFound || s == ExperimentKilled || s == ExperimentCompleted
}

// Experiment is an A/B test owned by the resolver until terminal.
type Experiment struct {
	ID            string           `json:"id"`
	Status        ExperimentStatus `json:"status"`
	VisitorsA     int              `json:"visitors_a"`
	VisitorsB     int              `json:"visitors_b"`
	ConversionsA  int              `json:"conversions_a"`
	ConversionsB  int              `json:"conversions_b"`
	RevenueA      float64          `json:"revenue_a"`
	RevenueB      float64          `json:"revenue_b"`
	Confidence    float64          `json:"confidence"`
	Winner        string           `json:"winner,omitempty"` // "a" | "b"
	WinnerUplift  *float64         `json:"winner_uplift,omitempty"`
	AgentDecision string           `json:"agent_decision,omitempty"`
	ContentID     string           `json:"content_id,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
}

// TotalVisitors is the combined sample size across both variants.
func (e *Experiment) TotalVisitors() int { return e.VisitorsA + e.VisitorsB }
