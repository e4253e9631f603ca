// Package analytics provides the statistical-significance capability the
// experiment resolver consults. Two implementations exist: a built-in
// two-proportion z-test and a remote HTTP service.
package analytics

import (
	"context"
	"math"
)

// Counts are the raw observations for a two-variant experiment.
type Counts struct {
	VisitorsA    int `json:"visitors_a"`
	VisitorsB    int `json:"visitors_b"`
	ConversionsA int `json:"conversions_a"`
	ConversionsB int `json:"conversions_b"`
}

// Result is the analyzer's verdict. Available is false when the
// capability could not produce a result at all; callers must then leave
// the experiment untouched and retry later.
type Result struct {
	Confidence float64  `json:"confidence"`
	Uplift     *float64 `json:"uplift,omitempty"`
	Winner     string   `json:"winner,omitempty"` // "a", "b" or empty
	Available  bool     `json:"available"`
}

// Analyzer turns raw counts into a significance verdict.
type Analyzer interface {
	Analyze(ctx context.Context, c Counts) (Result, error)
}

// significanceAlpha is the two-tailed p-value below which a winner may
// be named.
const significanceAlpha = 0.05

// ZTestAnalyzer is the built-in implementation: a pooled two-proportion
// z-test with a polynomial normal-CDF approximation, so no numerical
// library is needed.
type ZTestAnalyzer struct{}

func (ZTestAnalyzer) Analyze(_ context.Context, c Counts) (Result, error) {
	z := zTestProportions(c)
	pValue := 2 * (1 - normCDF(math.Abs(z)))
	confidence := (1 - pValue) * 100

	res := Result{Confidence: confidence, Available: true}
	if pValue >= significanceAlpha || c.VisitorsA == 0 || c.VisitorsB == 0 {
		return res, nil
	}

	rateA := float64(c.ConversionsA) / float64(c.VisitorsA)
	rateB := float64(c.ConversionsB) / float64(c.VisitorsB)
	switch {
	case rateB > rateA:
		res.Winner = "b"
		if rateA > 0 {
			uplift := (rateB - rateA) / rateA
			res.Uplift = &uplift
		}
	case rateA > rateB:
		res.Winner = "a"
		if rateB > 0 {
			uplift := (rateA - rateB) / rateB
			res.Uplift = &uplift
		}
	}
	return res, nil
}

// zTestProportions returns the pooled z statistic, or 0 when the counts
// cannot support a test (empty variant, degenerate pool).
func zTestProportions(c Counts) float64 {
	if c.VisitorsA == 0 || c.VisitorsB == 0 {
		return 0
	}
	nA, nB := float64(c.VisitorsA), float64(c.VisitorsB)
	pA := float64(c.ConversionsA) / nA
	pB := float64(c.ConversionsB) / nB
	pool := float64(c.ConversionsA+c.ConversionsB) / (nA + nB)
	if pool == 0 || pool == 1 {
		return 0
	}
	se := math.Sqrt(pool * (1 - pool) * (1/nA + 1/nB))
	if se == 0 {
		return 0
	}
	return (pB - pA) / se
}

// normCDF approximates the standard normal CDF (Abramowitz & Stegun
// 26.2.17, accurate to ~7.5e-8).
func normCDF(x float64) float64 {
	t := 1.0 / (1.0 + 0.2316419*math.Abs(x))
	d := 0.3989423 * math.Exp(-x*x/2)
	prob := d * t * (0.3193815 + t*(-0.3565638+t*(1.7814779+t*(-1.8212560+t*1.3302744))))
	if x >= 0 {
		return 1 - prob
	}
	return prob
}

// normPPF is a rational approximation of the inverse normal CDF
// (Abramowitz & Stegun 26.2.23).
func normPPF(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	q := p
	if p >= 0.5 {
		q = 1 - p
	}
	t := math.Sqrt(-2 * math.Log(q))
	num := 2.515517 + t*(0.802853+t*0.010328)
	den := 1 + t*(1.432788+t*(0.189269+t*0.001308))
	x := t - num/den
	if p >= 0.5 {
		return x
	}
	return -x
}

// RequiredSampleSize returns the visitors needed per variant to detect
// the given relative uplift over baselineRate at the given alpha and
// power. Used for experiment sizing before launch.
func RequiredSampleSize(baselineRate, minUplift, alpha, power float64) int {
	if baselineRate <= 0 || baselineRate >= 1 || minUplift <= 0 {
		return 0
	}
	p1 := baselineRate
	p2 := baselineRate * (1 + minUplift)
	if p2 >= 1 {
		p2 = 0.9999
	}

	zAlpha := normPPF(1 - alpha/2)
	zBeta := normPPF(power)
	diff := p2 - p1
	n := math.Pow(zAlpha+zBeta, 2) * (p1*(1-p1) + p2*(1-p2)) / (diff * diff)
	return int(math.Ceil(n))
}
