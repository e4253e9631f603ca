package domain

import "time"

// AttributionModel selects how revenue credit is split across touchpoints.
type AttributionModel string

const (
	ModelUShaped    AttributionModel = "u_shaped"
	ModelLinear     AttributionModel = "linear"
	ModelTimeDecay  AttributionModel = "time_decay"
	ModelFirstTouch AttributionModel = "first_touch"
	ModelLastTouch  AttributionModel = "last_touch"
)

// Valid reports whether m names a known attribution model.
func (m AttributionModel) Valid() bool {
	switch m {
	case ModelUShaped, ModelLinear, ModelTimeDecay, ModelFirstTouch, ModelLastTouch:
		return true
	}
	return false
}

// TouchPosition classifies where a touchpoint sits in the journey.
type TouchPosition string

const (
	PositionFirst  TouchPosition = "first"
	PositionMiddle TouchPosition = "middle"
	PositionLast   TouchPosition = "last"
)

// Touchpoint is a read-only, time-ordered interaction record for a lead.
type Touchpoint struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	EventType  string    `json:"event_type"`
	Channel    string    `json:"channel"`
	KeywordID  string    `json:"keyword_id,omitempty"`
	ContentID  string    `json:"content_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RevenueEvent is supplied by the billing collaborator and attributed
// exactly once.
type RevenueEvent struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	AmountUSD  float64   `json:"amount_usd"`
	OccurredAt time.Time `json:"occurred_at"`
	Attributed bool      `json:"attributed"`
}

// AttributionEntry is the credit assigned to one touchpoint.
type AttributionEntry struct {
	TouchpointID    string        `json:"touchpoint_id"`
	AttributedUSD   float64       `json:"attributed_usd"`
	Weight          float64       `json:"weight"`
	Position        TouchPosition `json:"position"`
	Channel         string        `json:"channel"`
	KeywordID       string        `json:"keyword_id,omitempty"`
	ContentID       string        `json:"content_id,omitempty"`
}

// Attribution is the computed split for one revenue event, stored alongside
// it. For the U-shaped model with exactly two touchpoints the entries sum to
// 80% of the event amount; dashboards depend on that total, so it is kept.
type Attribution struct {
	RevenueEventID string             `json:"revenue_event_id"`
	Model          AttributionModel   `json:"model"`
	AmountUSD      float64            `json:"amount_usd"`
	Entries        []AttributionEntry `json:"entries"`
	ComputedAt     time.Time          `json:"computed_at"`
}

// TotalAttributed sums the per-touch credit.
func (a *Attribution) TotalAttributed() float64 {
	var sum float64
	for _, e := range a.Entries {
		sum += e.AttributedUSD
	}
	return sum
}
