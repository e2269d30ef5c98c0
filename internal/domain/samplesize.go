package domain

import "math"

// baselineRate is the assumed control conversion/click-through rate used for
// rate-metric sample size planning when no historical baseline exists.
const baselineRate = 0.05

// zAlpha returns the two-tailed critical value for the given significance
// level. Exact lookup, no interpolation.
func zAlpha(alpha float64) float64 {
	switch alpha {
	case 0.01:
		return 2.576
	case 0.10:
		return 1.645
	default:
		return 1.96 // alpha = 0.05
	}
}

// zBeta returns the one-tailed critical value for the given power.
// Exact lookup, no interpolation.
func zBeta(power float64) float64 {
	switch power {
	case 0.90:
		return 1.28
	case 0.95:
		return 1.64
	default:
		return 0.84 // power = 0.80
	}
}

// PlanSampleSize computes the minimum per-arm sample size needed to detect
// effectSize at the given power and alpha, floored at a per-metric minimum.
//
// Rate metrics use the standard two-proportion formula against the assumed
// baseline; continuous metrics use the Cohen's-d form.
func PlanSampleSize(metric MetricKind, effectSize, power, alpha float64) int {
	floor := metric.MinSample()
	if effectSize <= 0 {
		return floor
	}

	za := zAlpha(alpha)
	zb := zBeta(power)

	var n float64
	if metric.Continuous() {
		ratio := (za + zb) / effectSize
		n = math.Ceil(2 * ratio * ratio)
	} else {
		p1 := baselineRate
		p2 := p1 * (1 + effectSize)
		pBar := (p1 + p2) / 2
		diff := p2 - p1
		zSum := za + zb
		n = math.Ceil(zSum * zSum * 2 * pBar * (1 - pBar) / (diff * diff))
	}

	if n < float64(floor) {
		return floor
	}
	return int(n)
}
