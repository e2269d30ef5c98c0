package domain

import "math"

// stats.go — hypothesis-test kernel. Pure functions over aggregate counters,
// shared by both the proportion and continuous test paths.

// TestOutcome is the result shape both test paths expose.
type TestOutcome struct {
	PValue             float64
	EffectSize         float64
	ConfidenceInterval [2]float64 // 95% Wald interval for the raw difference
	Statistic          float64    // z (proportions) or t (continuous)
}

// degenerate is returned whenever the inputs cannot support inference
// (zero denominators, zero pooled variance). Evaluation always completes.
func degenerate() TestOutcome {
	return TestOutcome{PValue: 1.0}
}

// NormalCDF approximates the standard normal CDF as 0.5×(1+erf(x/√2)).
func NormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// TwoProportionTest runs a two-tailed two-proportion z-test on (n1, x1) as
// control and (n2, x2) as treatment, each a (denominator, numerator) pair.
// Effect size is |Cohen's h|.
func TwoProportionTest(n1, x1, n2, x2 float64) TestOutcome {
	if n1 <= 0 || n2 <= 0 {
		return degenerate()
	}

	p1 := x1 / n1
	p2 := x2 / n2
	pooled := (x1 + x2) / (n1 + n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return degenerate()
	}

	z := (p2 - p1) / se
	pValue := 2 * (1 - NormalCDF(math.Abs(z)))

	h := 2 * (math.Asin(math.Sqrt(p2)) - math.Asin(math.Sqrt(p1)))

	diff := p2 - p1
	margin := 1.96 * math.Sqrt(p1*(1-p1)/n1+p2*(1-p2)/n2)

	return TestOutcome{
		PValue:             pValue,
		EffectSize:         math.Abs(h),
		ConfidenceInterval: [2]float64{diff - margin, diff + margin},
		Statistic:          z,
	}
}

// ContinuousTest compares two arm means with a pooled-variance t-statistic.
//
// The counters retain only aggregate means, so each arm's standard deviation
// is approximated as 0.5× its mean and the p-value uses the normal CDF rather
// than a true t-distribution. Acceptable only because n is large in this
// domain; this is an approximation, not exact inference.
func ContinuousTest(mean1, n1, mean2, n2 float64) TestOutcome {
	if n1 <= 1 || n2 <= 1 {
		return degenerate()
	}

	s1 := 0.5 * mean1
	s2 := 0.5 * mean2
	pooledVar := ((n1-1)*s1*s1 + (n2-1)*s2*s2) / (n1 + n2 - 2)
	sp := math.Sqrt(pooledVar)
	if sp == 0 {
		return degenerate()
	}

	seScale := math.Sqrt(1/n1 + 1/n2)
	t := (mean2 - mean1) / (sp * seScale)
	pValue := 2 * (1 - NormalCDF(math.Abs(t)))

	diff := mean2 - mean1
	margin := 1.96 * sp * seScale

	return TestOutcome{
		PValue:             pValue,
		EffectSize:         math.Abs(diff) / sp, // Cohen's d
		ConfidenceInterval: [2]float64{diff - margin, diff + margin},
		Statistic:          t,
	}
}

// CompareSnapshots runs the test appropriate for the metric kind, control
// first. Continuous metrics test the per-visitor mean; proportion metrics test
// the metric's trial pair.
func CompareSnapshots(metric MetricKind, control, treatment VariationSnapshot) TestOutcome {
	if metric.Continuous() {
		return ContinuousTest(
			metric.Value(control), float64(control.Visitors()),
			metric.Value(treatment), float64(treatment.Visitors()),
		)
	}
	n1, x1 := metric.Trials(control)
	n2, x2 := metric.Trials(treatment)
	return TwoProportionTest(n1, x1, n2, x2)
}
