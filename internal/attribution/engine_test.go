package attribution

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

type fakeAttributionRepo struct {
	event   *domain.RevenueEvent
	touches []domain.Touchpoint
	saved   *domain.Attribution
	saveErr error
}

func (f *fakeAttributionRepo) CreateRevenueEvent(_ context.Context, ev *domain.RevenueEvent) error {
	f.event = ev
	return nil
}

func (f *fakeAttributionRepo) GetRevenueEvent(_ context.Context, id string) (*domain.RevenueEvent, error) {
	if f.event == nil || f.event.ID != id {
		return nil, &domain.RevenueEventNotFoundError{EventID: id}
	}
	return f.event, nil
}

func (f *fakeAttributionRepo) ListTouchpoints(context.Context, string) ([]domain.Touchpoint, error) {
	return f.touches, nil
}

func (f *fakeAttributionRepo) SaveAttribution(_ context.Context, a *domain.Attribution) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.event.Attributed {
		return &domain.AlreadyAttributedError{EventID: a.RevenueEventID}
	}
	f.saved = a
	f.event.Attributed = true
	return nil
}

func (f *fakeAttributionRepo) GetAttribution(context.Context, string) (*domain.Attribution, error) {
	return f.saved, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func journey(n int, amount float64) *fakeAttributionRepo {
	return &fakeAttributionRepo{
		event: &domain.RevenueEvent{
			ID: "ev-1", LeadID: "lead-1", AmountUSD: amount,
			OccurredAt: time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC),
		},
		touches: touches(n),
	}
}

func TestAttribute_SingleTouchGetsEverything(t *testing.T) {
	repo := journey(1, 100)
	e := NewEngine(repo, testLogger())

	attr, err := e.Attribute(context.Background(), "ev-1", domain.ModelUShaped)
	require.NoError(t, err)
	require.Len(t, attr.Entries, 1)
	assert.InDelta(t, 100.0, attr.Entries[0].AttributedUSD, 1e-9)
	assert.InDelta(t, 100.0, attr.TotalAttributed(), 1e-9)
}

func TestAttribute_ThreeTouchesSplit40_20_40(t *testing.T) {
	repo := journey(3, 100)
	e := NewEngine(repo, testLogger())

	attr, err := e.Attribute(context.Background(), "ev-1", domain.ModelUShaped)
	require.NoError(t, err)
	require.Len(t, attr.Entries, 3)
	assert.InDelta(t, 40.0, attr.Entries[0].AttributedUSD, 1e-9)
	assert.InDelta(t, 20.0, attr.Entries[1].AttributedUSD, 1e-9)
	assert.InDelta(t, 40.0, attr.Entries[2].AttributedUSD, 1e-9)

	assert.Equal(t, domain.PositionFirst, attr.Entries[0].Position)
	assert.Equal(t, domain.PositionMiddle, attr.Entries[1].Position)
	assert.Equal(t, domain.PositionLast, attr.Entries[2].Position)
}

func TestAttribute_TwoTouchesSumToEighty(t *testing.T) {
	// Known u_shaped gap: no middle touches to carry the 20%.
	repo := journey(2, 100)
	e := NewEngine(repo, testLogger())

	attr, err := e.Attribute(context.Background(), "ev-1", domain.ModelUShaped)
	require.NoError(t, err)
	require.Len(t, attr.Entries, 2)
	assert.InDelta(t, 40.0, attr.Entries[0].AttributedUSD, 1e-9)
	assert.InDelta(t, 40.0, attr.Entries[1].AttributedUSD, 1e-9)
	assert.InDelta(t, 80.0, attr.TotalAttributed(), 1e-9)
}

func TestAttribute_NoTouchpointsYieldsEmptyAttribution(t *testing.T) {
	repo := journey(0, 100)
	e := NewEngine(repo, testLogger())

	attr, err := e.Attribute(context.Background(), "ev-1", domain.ModelUShaped)
	require.NoError(t, err)
	assert.Empty(t, attr.Entries)
	assert.True(t, repo.event.Attributed)
}

func TestAttribute_UnknownEvent(t *testing.T) {
	repo := &fakeAttributionRepo{}
	e := NewEngine(repo, testLogger())

	_, err := e.Attribute(context.Background(), "missing", domain.ModelUShaped)
	var notFound *domain.RevenueEventNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestAttribute_SecondCallIsNoOp(t *testing.T) {
	repo := journey(3, 100)
	e := NewEngine(repo, testLogger())

	first, err := e.Attribute(context.Background(), "ev-1", domain.ModelUShaped)
	require.NoError(t, err)

	second, err := e.Attribute(context.Background(), "ev-1", domain.ModelUShaped)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAttribute_RoundsToCents(t *testing.T) {
	repo := journey(3, 99.99)
	e := NewEngine(repo, testLogger())

	attr, err := e.Attribute(context.Background(), "ev-1", domain.ModelLinear)
	require.NoError(t, err)
	for _, entry := range attr.Entries {
		assert.InDelta(t, 33.33, entry.AttributedUSD, 1e-9)
	}
}

func TestAttribute_InvalidModelFallsBackToUShaped(t *testing.T) {
	repo := journey(3, 100)
	e := NewEngine(repo, testLogger())

	attr, err := e.Attribute(context.Background(), "ev-1", domain.AttributionModel("bogus"))
	require.NoError(t, err)
	assert.Equal(t, domain.ModelUShaped, attr.Model)
}
