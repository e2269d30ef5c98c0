package engine

import (
	"context"
	"log/slog"
	"math"

	"github.com/adelgado/ablab/internal/domain"
)

// evaluator.go — turns a consistent counter snapshot into a Result: readiness
// gate, best-arm selection, one statistical comparison against control,
// business-impact projection, auto-conclusion.

// ShouldEvaluate is the advisory readiness gate: enough runtime and enough
// total conversions to make the comparison meaningful. Callers may still
// force-evaluate, e.g. at conclusion time.
func (e *Engine) ShouldEvaluate(exp *domain.Experiment) bool {
	if e.now().Sub(exp.StartDate) < e.cfg.MinTestDuration {
		return false
	}
	var conversions int64
	for _, s := range exp.Snapshots() {
		conversions += s.Conversions
	}
	return conversions >= int64(exp.MinSampleSize)
}

// Evaluate runs one evaluation cycle against the experiment's current
// counters and writes the Result back onto the experiment. A highly
// significant result auto-concludes the experiment as a side effect.
func (e *Engine) Evaluate(ctx context.Context, id string) (domain.Result, error) {
	exp, active := e.lookup(id)
	if exp == nil {
		return domain.Result{}, &domain.NotFoundError{Kind: "experiment", ID: id}
	}
	if !active {
		return domain.Result{}, &domain.InvalidStateError{Op: "evaluate", From: exp.Status()}
	}

	// Consistent snapshot first; the numeric work below runs lock-free.
	snaps := exp.Snapshots()
	metric := exp.PrimaryMetric

	var control domain.VariationSnapshot
	found := false
	for _, s := range snaps {
		if s.ID == exp.ControlID {
			control = s
			found = true
			break
		}
	}
	if !found {
		// Creation validates control membership; reaching this is a bug.
		slog.Error("evaluate: control variation missing", "experiment", exp.ID, "control", exp.ControlID)
		return domain.Result{}, &domain.NotFoundError{Kind: "variation", ID: exp.ControlID}
	}

	best := bestArm(metric, exp.ControlID, snaps)

	outcome := domain.CompareSnapshots(metric, control, best)
	confidence := 1 - outcome.PValue
	tier := domain.ClassifySignificance(confidence)

	winnerID := ""
	if tier.Conclusive() {
		winnerID = best.ID
	}

	controlValue := metric.Value(control)
	bestValue := metric.Value(best)
	lift := 0.0
	if controlValue != 0 {
		lift = (bestValue - controlValue) / controlValue * 100
	}

	var totalImpressions, totalConversions int64
	totalRevenue := 0.0
	for _, s := range snaps {
		totalImpressions += s.Impressions
		totalConversions += s.Conversions
		totalRevenue += s.Revenue
	}

	now := e.now()
	days := exp.DaysRunning(now)

	// Annualized extrapolation of the observed lift. A labeled projection
	// with no seasonality or decay model, nothing stronger.
	revenueImpact := lift / 100 * totalRevenue * (365 / float64(max(days, 1)))

	res := domain.Result{
		ExperimentID:           exp.ID,
		TotalImpressions:       totalImpressions,
		TotalConversions:       totalConversions,
		DurationDays:           days,
		WinningVariationID:     winnerID,
		ConfidenceLevel:        confidence,
		Significance:           tier,
		PValue:                 outcome.PValue,
		EffectSize:             outcome.EffectSize,
		PowerAnalysis:          e.powerAnalysis(exp, totalConversions, days),
		ProjectedLift:          lift,
		EstimatedRevenueImpact: revenueImpact,
		CalculatedAt:           now,
	}

	exp.SetResult(res)
	for _, v := range exp.Variations() {
		if v.ID == best.ID {
			v.SetEvaluation(outcome.ConfidenceInterval, res.PowerAnalysis.AchievedPower)
		} else {
			v.SetEvaluation([2]float64{}, res.PowerAnalysis.AchievedPower)
		}
	}

	slog.Info("experiment evaluated",
		"id", exp.ID,
		"tier", tier,
		"p_value", outcome.PValue,
		"winner", winnerID,
		"lift_pct", lift,
	)

	advice := e.advise(ctx, tier, lift, winnerID)
	e.notifyResultAsync(exp, res, advice)

	if tier == domain.TierHighlySignificant {
		if ok, err := e.Conclude(ctx, exp.ID, "auto-concluded: highly significant result"); err != nil {
			slog.Warn("evaluate: auto-conclude failed", "id", exp.ID, "err", err)
		} else if ok {
			slog.Info("experiment auto-concluded", "id", exp.ID, "winner", winnerID)
		}
	} else {
		e.persistAsync(exp)
	}

	return res, nil
}

// bestArm picks the non-control variation with the strictly greatest primary
// metric value. Ties break by encounter order: the first variation in the
// stored sequence wins.
func bestArm(metric domain.MetricKind, controlID string, snaps []domain.VariationSnapshot) domain.VariationSnapshot {
	var best domain.VariationSnapshot
	bestValue := math.Inf(-1)
	for _, s := range snaps {
		if s.ID == controlID {
			continue
		}
		if v := metric.Value(s); v > bestValue {
			best = s
			bestValue = v
		}
	}
	return best
}

// powerAnalysis builds the sample-size accounting for one result. Achieved
// power is a sample-progress proxy, not a true post-hoc power calculation.
func (e *Engine) powerAnalysis(exp *domain.Experiment, totalConversions int64, days int) domain.PowerAnalysis {
	achieved := math.Min(0.95, float64(totalConversions)/float64(exp.MinSampleSize))

	remaining := int64(exp.MinSampleSize) - totalConversions
	estDays := 0
	if remaining > 0 {
		perDay := float64(totalConversions) / float64(max(days, 1))
		if perDay > 0 {
			estDays = int(math.Ceil(float64(remaining) / perDay))
		}
	}

	return domain.PowerAnalysis{
		AchievedPower:               achieved,
		RequiredSampleSize:          exp.MinSampleSize,
		ActualSampleSize:            totalConversions,
		EstimatedDaysToSignificance: estDays,
	}
}
