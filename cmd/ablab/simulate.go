package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/adelgado/ablab/config"
	"github.com/adelgado/ablab/internal/adapters/notify"
	"github.com/adelgado/ablab/internal/application/engine"
	"github.com/adelgado/ablab/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// runSimulation drives a demo experiment end to end: create → activate →
// concurrent rate-limited traffic → evaluate → conclude → insights. The start
// date is backdated so the readiness gate is exercised rather than bypassed.
func runSimulation(ctx context.Context, eng *engine.Engine, console *notify.Console, cfg *config.Config) error {
	ownerID := uuid.New().String()
	sim := cfg.Simulate

	start := time.Now().UTC().Add(-8 * 24 * time.Hour)
	exp, err := eng.CreateExperiment(ctx, ownerID, domain.ExperimentConfig{
		Name:          "homepage headline test",
		Hypothesis:    "the new headline increases click-through",
		PrimaryMetric: domain.MetricCTR,
		ControlID:     "control",
		MinEffectSize: cfg.Engine.DefaultMinEffect,
		Power:         cfg.Engine.DefaultPower,
		Alpha:         cfg.Engine.DefaultAlpha,
		StartDate:     start,
		PlannedEnd:    start.Add(30 * 24 * time.Hour),
	}, []domain.VariationConfig{
		{ID: "control", Name: "current headline", TrafficPct: 50},
		{ID: "treatment", Name: "new headline", TrafficPct: 50},
	})
	if err != nil {
		return fmt.Errorf("simulate: create: %w", err)
	}
	if err := eng.Start(ctx, exp.ID); err != nil {
		return fmt.Errorf("simulate: start: %w", err)
	}

	slog.Info("simulation started",
		"experiment", exp.ID,
		"impressions", sim.Impressions,
		"workers", sim.Workers,
		"events_per_sec", sim.EventsPerSecond,
	)

	generateTraffic(ctx, eng, exp.ID, sim)

	if !eng.ShouldEvaluate(exp) {
		slog.Warn("simulation produced too little data for the readiness gate; evaluating anyway")
	}

	res, err := eng.Evaluate(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("simulate: evaluate: %w", err)
	}

	// A highly significant run already auto-concluded; close out the rest.
	if !res.Significance.Conclusive() {
		if _, err := eng.Conclude(ctx, exp.ID, "simulation finished"); err != nil {
			slog.Warn("simulate: conclude failed", "err", err)
		}
	} else if res.Significance == domain.TierSignificant {
		if _, err := eng.Conclude(ctx, exp.ID, "simulation finished with a winner"); err != nil {
			slog.Warn("simulate: conclude failed", "err", err)
		}
	}

	ins, err := eng.GetInsights(ctx, ownerID, "")
	if err != nil {
		return fmt.Errorf("simulate: insights: %w", err)
	}
	console.PrintInsights(ins)

	// Give the fire-and-forget store/notify goroutines a moment to drain.
	time.Sleep(200 * time.Millisecond)
	return nil
}

// generateTraffic runs concurrent workers paced by a shared rate limiter.
// Each impression routes to an arm per the traffic split, then rolls clicks
// and conversions against the arm's true rates.
func generateTraffic(ctx context.Context, eng *engine.Engine, experimentID string, sim config.SimulateConfig) {
	limiter := rate.NewLimiter(rate.Limit(sim.EventsPerSecond), int(sim.EventsPerSecond/10)+1)

	work := make(chan struct{}, sim.Impressions)
	for i := 0; i < sim.Impressions; i++ {
		work <- struct{}{}
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < sim.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range work {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				variation := "control"
				ctr := sim.ControlCTR
				if rng.Float64() >= 0.5 {
					variation = "treatment"
					ctr = sim.TreatmentCTR
				}

				eng.RecordEvent(experimentID, variation, domain.EventImpression, 0)
				if rng.Float64() < ctr {
					eng.RecordEvent(experimentID, variation, domain.EventClick, 0)
					if rng.Float64() < sim.ConversionRate {
						revenue := 5 + rng.Float64()*45
						eng.RecordEvent(experimentID, variation, domain.EventConversion, revenue)
					}
				}
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()
}
