package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adelgado/ablab/internal/domain"
	"github.com/adelgado/ablab/internal/ports"
)

// Insights is the aggregated summary returned by GetInsights.
type Insights struct {
	OwnerID          string
	Total            int
	ByStatus         map[domain.Status]int
	TotalImpressions int64
	TotalConversions int64
	WinnersFound     int
	AvgConfidence    float64 // across evaluated experiments only
	Experiments      []ExperimentInsight
}

// ExperimentInsight is one experiment's contribution to the summary.
type ExperimentInsight struct {
	ID                 string
	Name               string
	Status             domain.Status
	Significance       domain.Tier
	ConfidenceLevel    float64
	ProjectedLift      float64
	WinningVariationID string
	Advice             ports.Recommendation
}

// GetInsights aggregates an owner's experiments — active and concluded — into
// a summary. A non-empty experimentID narrows the summary to that experiment;
// an unknown id surfaces NotFoundError.
func (e *Engine) GetInsights(ctx context.Context, ownerID, experimentID string) (Insights, error) {
	e.mu.RLock()
	exps := make([]*domain.Experiment, 0, len(e.active)+len(e.history))
	for _, exp := range e.active {
		exps = append(exps, exp)
	}
	for _, h := range e.history {
		exps = append(exps, h.Experiment)
	}
	e.mu.RUnlock()

	ins := Insights{
		OwnerID:  ownerID,
		ByStatus: make(map[domain.Status]int),
	}

	matched := false
	evaluated := 0
	confidenceSum := 0.0
	for _, exp := range exps {
		if exp.OwnerID != ownerID {
			continue
		}
		if experimentID != "" && exp.ID != experimentID {
			continue
		}
		matched = true

		status := exp.Status()
		ins.Total++
		ins.ByStatus[status]++

		for _, s := range exp.Snapshots() {
			ins.TotalImpressions += s.Impressions
			ins.TotalConversions += s.Conversions
		}

		ei := ExperimentInsight{
			ID:     exp.ID,
			Name:   exp.Name,
			Status: status,
		}
		if res := exp.Result(); res != nil {
			evaluated++
			confidenceSum += res.ConfidenceLevel
			ei.Significance = res.Significance
			ei.ConfidenceLevel = res.ConfidenceLevel
			ei.ProjectedLift = res.ProjectedLift
			ei.WinningVariationID = res.WinningVariationID
			ei.Advice = e.advise(ctx, res.Significance, res.ProjectedLift, res.WinningVariationID)
			if res.HasWinner() {
				ins.WinnersFound++
			}
		}
		ins.Experiments = append(ins.Experiments, ei)
	}

	if experimentID != "" && !matched {
		return Insights{}, &domain.NotFoundError{Kind: "experiment", ID: experimentID}
	}
	if evaluated > 0 {
		ins.AvgConfidence = confidenceSum / float64(evaluated)
	}
	return ins, nil
}

// advise asks the external text generator for advice, falling back to the
// deterministic built-in table when it is absent or fails.
func (e *Engine) advise(ctx context.Context, tier domain.Tier, lift float64, winnerID string) ports.Recommendation {
	if e.recommender != nil {
		advice, err := e.recommender.Recommend(ctx, tier, lift, winnerID)
		if err == nil {
			return advice
		}
		slog.Warn("engine: recommender failed, using fallback", "err", err)
	}
	return fallbackAdvice(tier, lift, winnerID)
}

// fallbackAdvice is the built-in advice table keyed by tier. Deterministic by
// contract so the engine works without the external generator.
func fallbackAdvice(tier domain.Tier, lift float64, winnerID string) ports.Recommendation {
	switch tier {
	case domain.TierHighlySignificant:
		return ports.Recommendation{
			Summary: fmt.Sprintf("Variation %s is a clear winner with a projected lift of %.1f%%.", winnerID, lift),
			Actions: []string{
				fmt.Sprintf("Roll out variation %s to all traffic", winnerID),
				"Archive the experiment and record the learnings",
			},
		}
	case domain.TierSignificant:
		return ports.Recommendation{
			Summary: fmt.Sprintf("Variation %s beats control (projected lift %.1f%%), at standard confidence.", winnerID, lift),
			Actions: []string{
				fmt.Sprintf("Consider rolling out variation %s", winnerID),
				"Optionally extend the test to reach higher confidence",
			},
		}
	case domain.TierApproaching:
		return ports.Recommendation{
			Summary: "The difference is approaching significance; the test needs more data.",
			Actions: []string{
				"Keep the experiment running",
				"Re-evaluate once more conversions accumulate",
			},
		}
	default:
		return ports.Recommendation{
			Summary: "No measurable difference between variations yet.",
			Actions: []string{
				"Keep the experiment running until the sample size target is met",
				"Revisit the hypothesis if the planned end date passes without signal",
			},
		}
	}
}
