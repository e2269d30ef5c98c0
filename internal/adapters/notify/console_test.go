package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelgado/ablab/internal/application/engine"
	"github.com/adelgado/ablab/internal/domain"
	"github.com/adelgado/ablab/internal/ports"
)

func sampleRecord() domain.ExperimentRecord {
	return domain.ExperimentRecord{
		ID:        "3f2a9c1d-0000-0000-0000-000000000000",
		Name:      "hero banner",
		ControlID: "control",
		Variations: []domain.VariationSnapshot{
			{ID: "control", Name: "blue", TrafficPct: 50, Impressions: 1000, Clicks: 50},
			{ID: "treatment", Name: "green", TrafficPct: 50, Impressions: 1000, Clicks: 80},
		},
	}
}

func TestNotifyTransition(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	err := c.NotifyTransition(context.Background(), ports.TransitionEvent{
		ExperimentID: "3f2a9c1d-0000-0000-0000-000000000000",
		Name:         "hero banner",
		From:         domain.StatusDraft,
		To:           domain.StatusActive,
		Reason:       "started",
		At:           time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "10:30:00")
	assert.Contains(t, out, "hero banner")
	assert.Contains(t, out, "3f2a9c1d") // id is shortened
	assert.NotContains(t, out, "3f2a9c1d-0000")
	assert.Contains(t, out, "DRAFT")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "started")
}

func TestNotifyResult_Compact(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	err := c.NotifyResult(context.Background(), sampleRecord(), domain.Result{
		WinningVariationID: "treatment",
		ConfidenceLevel:    0.997,
		Significance:       domain.TierHighlySignificant,
		PValue:             0.003,
		ProjectedLift:      60.0,
		CalculatedAt:       time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC),
	}, ports.Recommendation{Summary: "ship it"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "conf=0.997")
	assert.Contains(t, out, "p=0.0030")
	assert.Contains(t, out, "lift=+60.0%")
	assert.Contains(t, out, "winner=treatment")
	// Compact mode omits the arm table and advice.
	assert.NotContains(t, out, "Clicks")
	assert.NotContains(t, out, "ship it")
}

func TestNotifyResult_NoWinner(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	err := c.NotifyResult(context.Background(), sampleRecord(), domain.Result{
		Significance: domain.TierNotSignificant,
		PValue:       0.8,
	}, ports.Recommendation{})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "winner=none")
}

func TestNotifyResult_Verbose(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, true)

	err := c.NotifyResult(context.Background(), sampleRecord(), domain.Result{
		WinningVariationID: "treatment",
		Significance:       domain.TierSignificant,
		PValue:             0.02,
		ConfidenceLevel:    0.98,
	}, ports.Recommendation{
		Summary: "treatment beats control",
		Actions: []string{"roll out treatment", "archive the experiment"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "blue (control)")
	assert.Contains(t, out, "green")
	assert.Contains(t, out, "treatment beats control")
	assert.Contains(t, out, "roll out treatment")
	assert.Contains(t, out, "archive the experiment")
}

func TestPrintInsights(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintInsights(engine.Insights{
		OwnerID:          "owner-1",
		Total:            2,
		ByStatus:         map[domain.Status]int{domain.StatusActive: 1, domain.StatusCompleted: 1},
		TotalImpressions: 20000,
		TotalConversions: 150,
		WinnersFound:     1,
		AvgConfidence:    0.974,
		Experiments: []engine.ExperimentInsight{
			{Name: "hero banner", Status: domain.StatusCompleted, Significance: domain.TierHighlySignificant, ConfidenceLevel: 0.997, ProjectedLift: 50, WinningVariationID: "treatment"},
			{Name: "pricing page", Status: domain.StatusActive},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "owner-1")
	assert.Contains(t, out, "2 experiments")
	assert.Contains(t, out, "hero banner")
	assert.Contains(t, out, "pricing page")
	assert.Contains(t, out, "treatment")
	assert.Contains(t, out, "avg confidence across evaluated experiments: 0.974")
}

func TestPrintInsights_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintInsights(engine.Insights{OwnerID: "owner-1"})

	out := buf.String()
	assert.Contains(t, out, "0 experiments")
	assert.NotContains(t, out, "Tier") // no table for an empty set
}
