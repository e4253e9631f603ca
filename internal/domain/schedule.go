package domain

import (
	"encoding/json"
	"time"
)

// Schedule is a recurring dispatch rule for one (agent, job type) pair.
// Dynamic schedules are persisted and editable at runtime; fixed schedules
// are wired in at startup. A schedule with an unparseable cron expression is
// rejected at load time and never armed.
type Schedule struct {
	ID             string          `json:"id"`
	AgentName      string          `json:"agent_name"`
	JobType        string          `json:"job_type"`
	CronExpression string          `json:"cron_expression"`
	Enabled        bool            `json:"enabled"`
	MaxDailyCost   float64         `json:"max_daily_cost"` // USD; 0 = no ceiling
	Payload        json.RawMessage `json:"payload,omitempty"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
}
