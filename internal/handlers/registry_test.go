package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/handlers"
)

// stub is a minimal Handler implementation for registry tests.
type stub struct{ agent, jobType string }

func (s *stub) AgentName() string { return s.agent }
func (s *stub) JobType() string   { return s.jobType }
func (s *stub) Execute(_ context.Context, _ json.RawMessage) (domain.Outcome, error) {
	return domain.Outcome{}, nil
}

func TestRegistry_Get_KnownPair(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{agent: "seo_demand_capture", jobType: "generate_brief"})

	h, err := reg.Get("seo_demand_capture", "generate_brief")
	require.NoError(t, err)
	assert.Equal(t, "seo_demand_capture", h.AgentName())
}

func TestRegistry_Get_UnknownPair(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{agent: "seo_demand_capture", jobType: "generate_brief"})

	_, err := reg.Get("seo_demand_capture", "publish")
	require.Error(t, err)

	var notFound *domain.HandlerNotFoundError
	assert.True(t, errors.As(err, &notFound),
		"expected HandlerNotFoundError, got %T", err)
	assert.Equal(t, "publish", notFound.JobType)
}

func TestRegistry_Agents_Distinct(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{agent: "seo_demand_capture", jobType: "generate_brief"})
	reg.Register(&stub{agent: "seo_demand_capture", jobType: "publish"})
	reg.Register(&stub{agent: "lead_scoring", jobType: "score_batch"})

	assert.ElementsMatch(t, []string{"seo_demand_capture", "lead_scoring"}, reg.Agents())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{agent: "a", jobType: "x"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); reg.Register(&stub{agent: "b", jobType: "y"}) }()
		go func() { defer wg.Done(); _, _ = reg.Get("a", "x") }()
	}
	wg.Wait()
}

func TestCompositeScore(t *testing.T) {
	tests := []struct {
		name string
		lead handlers.LeadInput
		want float64
	}{
		{
			name: "base weights only",
			lead: handlers.LeadInput{IntentScore: 100, FitScore: 100, EngagementScore: 100},
			want: 100,
		},
		{
			name: "weighted blend",
			lead: handlers.LeadInput{IntentScore: 50, FitScore: 40, EngagementScore: 20},
			want: 50*0.40 + 40*0.35 + 20*0.25,
		},
		{
			name: "enterprise bonus",
			lead: handlers.LeadInput{IntentScore: 50, FitScore: 50, EngagementScore: 50, CompanySize: 1000},
			want: 55,
		},
		{
			name: "c-suite title bonus",
			lead: handlers.LeadInput{IntentScore: 50, FitScore: 50, EngagementScore: 50, JobTitle: "Chief Revenue Officer"},
			want: 52.5,
		},
		{
			name: "clamped at 100",
			lead: handlers.LeadInput{
				IntentScore: 100, FitScore: 100, EngagementScore: 100,
				CompanySize: 1000, JobTitle: "CEO", ContentDownloads: 5,
			},
			want: 100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, handlers.CompositeScore(tt.lead), 1e-9)
		})
	}
}
