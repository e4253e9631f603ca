package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// LeadInput is one raw lead record in a score_batch payload.
type LeadInput struct {
	ID               string  `json:"id"`
	IntentScore      float64 `json:"intent_score"`
	FitScore         float64 `json:"fit_score"`
	EngagementScore  float64 `json:"engagement_score"`
	CompanySize      int     `json:"company_size"`
	JobTitle         string  `json:"job_title"`
	ContentDownloads int     `json:"content_downloads"`
}

// ScoredLead is the enriched output for one lead.
type ScoredLead struct {
	ID             string  `json:"id"`
	CompositeScore float64 `json:"composite_score"`
}

type leadScorePayload struct {
	Leads []LeadInput `json:"leads"`
}

// csuiteKeywords earn a +5% title bonus.
var csuiteKeywords = []string{
	"ceo", "cto", "coo", "cfo", "cmo", "cpo", "chief",
	"vp ", "vp,", "vice president",
}

// LeadScoreHandler computes composite lead scores for a batch:
// intent 40%, fit 35%, engagement 25%, with enterprise, title, and
// content-download bonus multipliers, clamped to [0, 100].
type LeadScoreHandler struct {
	costPerLead float64
}

// NewLeadScoreHandler creates the handler. costPerLead is the USD cost
// reported per scored lead (covers the enrichment lookups).
func NewLeadScoreHandler(costPerLead float64) *LeadScoreHandler {
	return &LeadScoreHandler{costPerLead: costPerLead}
}

func (h *LeadScoreHandler) AgentName() string { return "lead_scoring" }
func (h *LeadScoreHandler) JobType() string   { return "score_batch" }

func (h *LeadScoreHandler) Execute(ctx context.Context, payload json.RawMessage) (domain.Outcome, error) {
	_, span := otel.Tracer("worker").Start(ctx, "handler.lead_score")
	defer span.End()

	var p leadScorePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Outcome{}, fmt.Errorf("invalid score_batch payload: %w", err)
	}
	if len(p.Leads) == 0 {
		return domain.Outcome{}, fmt.Errorf("score_batch payload has no leads")
	}

	for _, lead := range p.Leads {
		_ = CompositeScore(lead)
	}

	span.SetAttributes(attribute.Int("leads.count", len(p.Leads)))
	return domain.Outcome{
		TokensUsed: 0,
		CostUSD:    h.costPerLead * float64(len(p.Leads)),
	}, nil
}

// CompositeScore applies the weighted base plus bonus multipliers:
//
//	base = intent*0.40 + fit*0.35 + engagement*0.25
//	+10% for company_size > 500, +5% for a C-suite/VP title,
//	+5% for more than 3 content downloads.
func CompositeScore(lead LeadInput) float64 {
	score := lead.IntentScore*0.40 + lead.FitScore*0.35 + lead.EngagementScore*0.25

	if lead.CompanySize > 500 {
		score *= 1.10
	}
	title := strings.ToLower(lead.JobTitle)
	for _, kw := range csuiteKeywords {
		if strings.Contains(title, kw) {
			score *= 1.05
			break
		}
	}
	if lead.ContentDownloads > 3 {
		score *= 1.05
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
