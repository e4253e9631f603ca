package attribution

import (
	"math"
	"time"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// decayHalfLife is the time-decay model's half-life. A touch seven days
// before the last touch gets half the raw weight of the last touch.
const decayHalfLife = 7 * 24 * time.Hour

// Weights returns one weight per touchpoint for the given model.
// Touchpoints must already be ordered oldest first.
//
// Every model sums to 1.0 except u_shaped with exactly two touchpoints,
// which yields 0.4/0.4. Downstream consumers rely on those totals, so
// the gap is preserved rather than redistributed.
func Weights(model domain.AttributionModel, touches []domain.Touchpoint) []float64 {
	n := len(touches)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{1.0}
	}

	switch model {
	case domain.ModelLinear:
		w := make([]float64, n)
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
		return w
	case domain.ModelTimeDecay:
		return timeDecay(touches)
	case domain.ModelFirstTouch:
		w := make([]float64, n)
		w[0] = 1.0
		return w
	case domain.ModelLastTouch:
		w := make([]float64, n)
		w[n-1] = 1.0
		return w
	default:
		return uShaped(n)
	}
}

// uShaped gives 40% to the first and last touches and splits 20% evenly
// across the middle. With n=2 there is no middle, leaving 0.4/0.4.
func uShaped(n int) []float64 {
	w := make([]float64, n)
	w[0] = 0.40
	w[n-1] = 0.40
	if n > 2 {
		middle := 0.20 / float64(n-2)
		for i := 1; i < n-1; i++ {
			w[i] = middle
		}
	}
	return w
}

// timeDecay weights each touch by 0.5^(daysBeforeLast/halfLife) and
// normalises. The last touch stands in for the conversion time.
func timeDecay(touches []domain.Touchpoint) []float64 {
	n := len(touches)
	conversion := touches[n-1].OccurredAt

	raw := make([]float64, n)
	var total float64
	for i, tp := range touches {
		before := conversion.Sub(tp.OccurredAt)
		if before < 0 {
			before = 0
		}
		raw[i] = math.Pow(0.5, float64(before)/float64(decayHalfLife))
		total += raw[i]
	}
	if total == 0 {
		total = 1
	}
	for i := range raw {
		raw[i] /= total
	}
	return raw
}

// Position classifies index i of an n-touch journey. A single touch is
// both first and last; it reports as last to credit the converting touch.
func Position(i, n int) domain.TouchPosition {
	switch {
	case n == 1:
		return domain.PositionLast
	case i == 0:
		return domain.PositionFirst
	case i == n-1:
		return domain.PositionLast
	default:
		return domain.PositionMiddle
	}
}
