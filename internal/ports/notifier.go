package ports

import (
	"context"
	"time"

	"github.com/adelgado/ablab/internal/domain"
)

// TransitionEvent describes one lifecycle transition for notification sinks.
type TransitionEvent struct {
	ExperimentID string
	Name         string
	From, To     domain.Status
	Reason       string
	At           time.Time
}

// Notifier receives lifecycle transitions and evaluation results.
// The engine invokes it fire-and-forget; failures are logged, never surfaced.
type Notifier interface {
	NotifyTransition(ctx context.Context, ev TransitionEvent) error
	NotifyResult(ctx context.Context, rec domain.ExperimentRecord, res domain.Result, advice Recommendation) error
}
