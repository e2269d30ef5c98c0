package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/adelgado/ablab/internal/application/engine"
	"github.com/adelgado/ablab/internal/domain"
	"github.com/adelgado/ablab/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier by printing to stdout.
type Console struct {
	out     io.Writer
	verbose bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// NotifyTransition prints one lifecycle transition line.
func (c *Console) NotifyTransition(_ context.Context, ev ports.TransitionEvent) error {
	fmt.Fprintf(c.out, "[%s] %s (%s): %s → %s — %s\n",
		ev.At.Format("15:04:05"), ev.Name, shortID(ev.ExperimentID), ev.From, ev.To, ev.Reason)
	return nil
}

// NotifyResult prints the evaluation verdict; in verbose mode it adds the
// per-arm counter table and the advice list.
func (c *Console) NotifyResult(_ context.Context, rec domain.ExperimentRecord, res domain.Result, advice ports.Recommendation) error {
	winner := "none"
	if res.HasWinner() {
		winner = res.WinningVariationID
	}
	fmt.Fprintf(c.out, "[%s] %s %s conf=%.3f p=%.4f lift=%+.1f%% winner=%s\n",
		res.CalculatedAt.Format("15:04:05"), res.Significance.Icon(), rec.Name,
		res.ConfidenceLevel, res.PValue, res.ProjectedLift, winner)

	if !c.verbose {
		return nil
	}

	c.printArms(rec)
	fmt.Fprintf(c.out, "  %s\n", advice.Summary)
	for _, a := range advice.Actions {
		fmt.Fprintf(c.out, "   - %s\n", a)
	}
	return nil
}

// PrintInsights renders an owner's aggregated summary as a table.
func (c *Console) PrintInsights(ins engine.Insights) {
	fmt.Fprintf(c.out, "\n[%s] owner %s — %d experiments, %d impressions, %d conversions, %d winners\n",
		time.Now().Format("15:04:05"), ins.OwnerID, ins.Total,
		ins.TotalImpressions, ins.TotalConversions, ins.WinnersFound)

	if len(ins.Experiments) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Experiment", "Status", "Tier", "Conf", "Lift", "Winner")
	for _, ei := range ins.Experiments {
		tier := string(ei.Significance)
		if tier == "" {
			tier = "-"
		}
		winner := ei.WinningVariationID
		if winner == "" {
			winner = "-"
		}
		table.Append(
			ei.Name,
			string(ei.Status),
			tier,
			fmt.Sprintf("%.3f", ei.ConfidenceLevel),
			fmt.Sprintf("%+.1f%%", ei.ProjectedLift),
			winner,
		)
	}
	table.Render()

	if ins.AvgConfidence > 0 {
		fmt.Fprintf(c.out, "avg confidence across evaluated experiments: %.3f\n", ins.AvgConfidence)
	}
}

// printArms renders the per-variation counter table.
func (c *Console) printArms(rec domain.ExperimentRecord) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Arm", "Traffic", "Impr", "Clicks", "Conv", "CTR", "CVR", "Rev/Visitor")
	for _, v := range rec.Variations {
		name := v.Name
		if v.ID == rec.ControlID {
			name += " (control)"
		}
		table.Append(
			name,
			fmt.Sprintf("%.0f%%", v.TrafficPct),
			fmt.Sprintf("%d", v.Impressions),
			fmt.Sprintf("%d", v.Clicks),
			fmt.Sprintf("%d", v.Conversions),
			fmt.Sprintf("%.2f%%", v.CTR()),
			fmt.Sprintf("%.2f%%", v.ConversionRate()),
			fmt.Sprintf("$%.2f", v.RevenuePerVisitor()),
		)
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
