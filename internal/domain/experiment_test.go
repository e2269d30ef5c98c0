package domain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() ExperimentConfig {
	return ExperimentConfig{
		Name:          "headline test",
		Hypothesis:    "new headline lifts ctr",
		PrimaryMetric: MetricCTR,
		ControlID:     "control",
		MinEffectSize: 0.1,
		Power:         0.80,
		Alpha:         0.05,
	}
}

func validVariations() []VariationConfig {
	return []VariationConfig{
		{ID: "control", Name: "current", TrafficPct: 50},
		{ID: "treatment", Name: "new", TrafficPct: 50},
	}
}

// --- creation validation ---

func TestNewExperiment_Valid(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)

	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, StatusDraft, exp.Status())
	assert.Equal(t, PlanSampleSize(MetricCTR, 0.1, 0.80, 0.05), exp.MinSampleSize)
	assert.Len(t, exp.Variations(), 2)
	assert.True(t, exp.PlannedEnd.After(exp.StartDate))
}

func TestNewExperiment_TrafficMustSumTo100(t *testing.T) {
	variations := []VariationConfig{
		{ID: "control", TrafficPct: 50},
		{ID: "treatment", TrafficPct: 49},
	}
	_, err := NewExperiment("owner-1", validConfig(), variations)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "traffic_allocation", verr.Field)
}

func TestNewExperiment_TrafficTolerance(t *testing.T) {
	// 99.995 is within the ±0.01 tolerance.
	variations := []VariationConfig{
		{ID: "control", TrafficPct: 50},
		{ID: "treatment", TrafficPct: 49.995},
	}
	_, err := NewExperiment("owner-1", validConfig(), variations)
	assert.NoError(t, err)
}

func TestNewExperiment_DuplicateVariationIDs(t *testing.T) {
	variations := []VariationConfig{
		{ID: "control", TrafficPct: 50},
		{ID: "control", TrafficPct: 50},
	}
	_, err := NewExperiment("owner-1", validConfig(), variations)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "variations", verr.Field)
}

func TestNewExperiment_ControlMustBeAVariation(t *testing.T) {
	cfg := validConfig()
	cfg.ControlID = "missing"
	_, err := NewExperiment("owner-1", cfg, validVariations())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "control_id", verr.Field)
}

func TestNewExperiment_NeedsTwoVariations(t *testing.T) {
	_, err := NewExperiment("owner-1", validConfig(), []VariationConfig{
		{ID: "control", TrafficPct: 100},
	})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNewExperiment_UnsupportedMetric(t *testing.T) {
	cfg := validConfig()
	cfg.PrimaryMetric = MetricKind("time_on_page")
	_, err := NewExperiment("owner-1", cfg, validVariations())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "primary_metric", verr.Field)
}

func TestNewExperiment_ParameterRanges(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*ExperimentConfig)
	}{
		{"zero effect", func(c *ExperimentConfig) { c.MinEffectSize = 0 }},
		{"power too high", func(c *ExperimentConfig) { c.Power = 1 }},
		{"power too low", func(c *ExperimentConfig) { c.Power = 0 }},
		{"alpha too high", func(c *ExperimentConfig) { c.Alpha = 1 }},
		{"alpha negative", func(c *ExperimentConfig) { c.Alpha = -0.05 }},
	} {
		cfg := validConfig()
		tc.mutate(&cfg)
		_, err := NewExperiment("owner-1", cfg, validVariations())
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, tc.name)
	}
}

func TestNewExperiment_PlannedEndAfterStart(t *testing.T) {
	cfg := validConfig()
	cfg.StartDate = time.Now().UTC()
	cfg.PlannedEnd = cfg.StartDate.Add(-time.Hour)
	_, err := NewExperiment("owner-1", cfg, validVariations())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "planned_end", verr.Field)
}

// --- lifecycle transitions ---

func TestTransition_LegalPath(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)

	require.NoError(t, exp.Transition("start", StatusActive))
	require.NoError(t, exp.Transition("pause", StatusPaused))
	require.NoError(t, exp.Transition("resume", StatusActive))
	require.NoError(t, exp.Transition("conclude", StatusCompleted))

	assert.Equal(t, StatusCompleted, exp.Status())
	require.NotNil(t, exp.ActualEnd())
}

func TestTransition_Illegal(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)

	// Draft cannot pause or complete.
	var serr *InvalidStateError
	assert.ErrorAs(t, exp.Transition("pause", StatusPaused), &serr)
	assert.ErrorAs(t, exp.Transition("conclude", StatusCompleted), &serr)

	// Terminal states accept nothing.
	require.NoError(t, exp.Transition("cancel", StatusCancelled))
	assert.ErrorAs(t, exp.Transition("start", StatusActive), &serr)
	assert.ErrorAs(t, exp.Transition("cancel", StatusCancelled), &serr)
}

func TestTransition_CancelFromAnyNonTerminal(t *testing.T) {
	for _, prep := range []func(*Experiment){
		func(e *Experiment) {}, // Draft
		func(e *Experiment) { e.Transition("start", StatusActive) },
		func(e *Experiment) { e.Transition("start", StatusActive); e.Transition("pause", StatusPaused) },
	} {
		exp, err := NewExperiment("owner-1", validConfig(), validVariations())
		require.NoError(t, err)
		prep(exp)
		assert.NoError(t, exp.Transition("cancel", StatusCancelled))
	}
}

// --- event recording ---

func TestRecord_OnlyWhileActive(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)

	// Draft: rejected, counters untouched.
	assert.False(t, exp.Record("control", EventImpression, 0))
	assert.Equal(t, int64(0), exp.Variation("control").Snapshot().Impressions)

	require.NoError(t, exp.Transition("start", StatusActive))
	assert.True(t, exp.Record("control", EventImpression, 0))

	require.NoError(t, exp.Transition("conclude", StatusCompleted))
	assert.False(t, exp.Record("control", EventImpression, 0))
	assert.Equal(t, int64(1), exp.Variation("control").Snapshot().Impressions)
}

func TestRecord_UnknownVariation(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))

	assert.False(t, exp.Record("nope", EventImpression, 0))
}

func TestRecord_UnknownEventKindIsNoOp(t *testing.T) {
	// Typos are tolerated on the hot path: accepted, ignored, nothing counted.
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))

	assert.True(t, exp.Record("control", EventKind("impresion"), 0))

	snap := exp.Variation("control").Snapshot()
	assert.Equal(t, int64(0), snap.Impressions)
	assert.Equal(t, int64(0), snap.Clicks)
	assert.Equal(t, int64(0), snap.Conversions)
}

func TestRecord_ConversionRevenueSemantics(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))

	exp.Record("control", EventConversion, 0)    // absent → default 1.0
	exp.Record("control", EventConversion, 20)   // explicit value
	exp.Record("control", EventConversion, -5.0) // negative → contributes nothing

	snap := exp.Variation("control").Snapshot()
	assert.Equal(t, int64(3), snap.Conversions)
	assert.InDelta(t, 21.0, snap.Revenue, 0.0001)
}

func TestRecord_DerivedRatesNeverStale(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))
	v := exp.Variation("control")

	for i := 0; i < 10; i++ {
		exp.Record("control", EventImpression, 0)
	}
	assert.Equal(t, 0.0, v.CTR())

	exp.Record("control", EventClick, 0)
	assert.InDelta(t, 10.0, v.CTR(), 0.0001) // 1/10 × 100

	exp.Record("control", EventImpression, 0)
	assert.InDelta(t, 100.0/11.0, v.CTR(), 0.0001)

	exp.Record("control", EventConversion, 0)
	assert.InDelta(t, 100.0, v.ConversionRate(), 0.0001) // 1 conversion / 1 click
	assert.InDelta(t, 1.0, v.RevenuePerVisitor(), 0.0001)
}

func TestSnapshot_RateFallbacksWithoutClicks(t *testing.T) {
	// With no clicks recorded, conversion rate and revenue fall back to the
	// impression denominator.
	s := VariationSnapshot{Impressions: 200, Conversions: 4, Revenue: 100}
	assert.InDelta(t, 2.0, s.ConversionRate(), 0.0001)
	assert.InDelta(t, 0.5, s.RevenuePerVisitor(), 0.0001)
	assert.Equal(t, int64(200), s.Visitors())
}

// --- concurrency ---

func TestRecord_ConcurrentImpressionsLoseNothing(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))

	const goroutines = 50
	const perGoroutine = 40

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				exp.Record("control", EventImpression, 0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perGoroutine), exp.Variation("control").Snapshot().Impressions)
}

func TestSnapshots_ConcurrentWithRecording(t *testing.T) {
	// Snapshots taken mid-traffic must always be internally consistent:
	// clicks never exceed impressions when events arrive in order per goroutine.
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			exp.Record("treatment", EventImpression, 0)
			if i%4 == 0 {
				exp.Record("treatment", EventClick, 0)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		for _, s := range exp.Snapshots() {
			assert.LessOrEqual(t, s.Clicks, s.Impressions)
		}
	}
	<-done
}

// --- export / restore ---

func TestExportRestore_Roundtrip(t *testing.T) {
	exp, err := NewExperiment("owner-1", validConfig(), validVariations())
	require.NoError(t, err)
	require.NoError(t, exp.Transition("start", StatusActive))
	exp.Record("treatment", EventImpression, 0)
	exp.Record("treatment", EventClick, 0)
	exp.Record("treatment", EventConversion, 12.5)
	exp.SetResult(Result{ExperimentID: exp.ID, Significance: TierNotSignificant, PValue: 1})

	restored := Restore(exp.Export())

	assert.Equal(t, exp.ID, restored.ID)
	assert.Equal(t, StatusActive, restored.Status())
	require.NotNil(t, restored.Result())
	assert.Equal(t, TierNotSignificant, restored.Result().Significance)

	snap := restored.Variation("treatment").Snapshot()
	assert.Equal(t, int64(1), snap.Impressions)
	assert.Equal(t, int64(1), snap.Clicks)
	assert.Equal(t, int64(1), snap.Conversions)
	assert.InDelta(t, 12.5, snap.Revenue, 0.0001)
	// Derived rates recomputed from the restored counters.
	assert.InDelta(t, 100.0, restored.Variation("treatment").CTR(), 0.0001)
}

// --- metric extractor table ---

func TestMetricKind_Table(t *testing.T) {
	assert.True(t, MetricCTR.Valid())
	assert.True(t, MetricRevenue.Valid())
	assert.False(t, MetricKind("bounce_rate").Valid())

	assert.True(t, MetricRevenue.Continuous())
	assert.False(t, MetricCTR.Continuous())

	s := VariationSnapshot{Impressions: 1000, Clicks: 50, Conversions: 5, Revenue: 250}

	n, x := MetricCTR.Trials(s)
	assert.Equal(t, 1000.0, n)
	assert.Equal(t, 50.0, x)

	n, x = MetricConversionRate.Trials(s)
	assert.Equal(t, 50.0, n)
	assert.Equal(t, 5.0, x)

	assert.InDelta(t, 5.0, MetricCTR.Value(s), 0.0001)
	assert.InDelta(t, 10.0, MetricConversionRate.Value(s), 0.0001)
	assert.InDelta(t, 5.0, MetricRevenue.Value(s), 0.0001)
}
