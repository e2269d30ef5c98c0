package domain

// MetricKind identifies which derived metric an experiment optimizes.
type MetricKind string

const (
	MetricConversionRate MetricKind = "conversion_rate"
	MetricCTR            MetricKind = "ctr"
	MetricEngagementRate MetricKind = "engagement_rate"
	MetricRevenue        MetricKind = "revenue"
)

// EventKind identifies a recordable event on a variation.
type EventKind string

const (
	EventImpression EventKind = "impression"
	EventClick      EventKind = "click"
	EventConversion EventKind = "conversion"
)

// metricSpec binds a MetricKind to how its value and trial counts are read from
// a counter snapshot. An explicit table instead of by-name field lookup: an
// unsupported metric fails at experiment creation, not silently at evaluation.
type metricSpec struct {
	value      func(VariationSnapshot) float64
	trials     func(VariationSnapshot) (n, successes float64) // nil for continuous metrics
	continuous bool
	minSample  int // floor applied by the sample size planner
}

var metricSpecs = map[MetricKind]metricSpec{
	MetricConversionRate: {
		value: VariationSnapshot.ConversionRate,
		trials: func(s VariationSnapshot) (float64, float64) {
			return float64(s.Clicks), float64(s.Conversions)
		},
		minSample: 1000,
	},
	MetricCTR: {
		value: VariationSnapshot.CTR,
		trials: func(s VariationSnapshot) (float64, float64) {
			return float64(s.Impressions), float64(s.Clicks)
		},
		minSample: 500,
	},
	// Engagement shares the click counters; there is no separate engagement
	// numerator in the event model.
	MetricEngagementRate: {
		value: VariationSnapshot.CTR,
		trials: func(s VariationSnapshot) (float64, float64) {
			return float64(s.Impressions), float64(s.Clicks)
		},
		minSample: 750,
	},
	MetricRevenue: {
		value:      VariationSnapshot.RevenuePerVisitor,
		continuous: true,
		minSample:  200,
	},
}

// Valid reports whether the metric kind is supported by the engine.
func (m MetricKind) Valid() bool {
	_, ok := metricSpecs[m]
	return ok
}

// Continuous reports whether the metric is tested with the continuous-metric
// approximation instead of a proportion test.
func (m MetricKind) Continuous() bool {
	return metricSpecs[m].continuous
}

// Value extracts the metric's current value from a counter snapshot.
func (m MetricKind) Value(s VariationSnapshot) float64 {
	spec, ok := metricSpecs[m]
	if !ok {
		return 0
	}
	return spec.value(s)
}

// Trials extracts the (denominator, numerator) pair the proportion test runs
// on. Continuous metrics have no trial pair and return (0, 0).
func (m MetricKind) Trials(s VariationSnapshot) (n, successes float64) {
	spec, ok := metricSpecs[m]
	if !ok || spec.trials == nil {
		return 0, 0
	}
	return spec.trials(s)
}

// MinSample returns the planner floor for this metric kind. Unknown kinds get
// the most conservative floor.
func (m MetricKind) MinSample() int {
	if spec, ok := metricSpecs[m]; ok {
		return spec.minSample
	}
	return 1000
}
