package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/adelgado/ablab/internal/domain"
)

// registry.go — lifecycle state machine over the active/history partition.
// All map mutations happen under the engine mutex; store and notifier side
// effects run after the lock is released.

// CreateExperiment validates the configuration and inserts a Draft experiment
// into the active set.
func (e *Engine) CreateExperiment(ctx context.Context, ownerID string, cfg domain.ExperimentConfig, variations []domain.VariationConfig) (*domain.Experiment, error) {
	exp, err := domain.NewExperiment(ownerID, cfg, variations)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, dup := e.active[exp.ID]; dup {
		e.mu.Unlock()
		return nil, &domain.ValidationError{Field: "id", Reason: "experiment id already registered"}
	}
	e.active[exp.ID] = exp
	e.mu.Unlock()

	slog.Info("experiment created",
		"id", exp.ID,
		"owner", ownerID,
		"metric", exp.PrimaryMetric,
		"variations", len(variations),
		"min_sample", exp.MinSampleSize,
	)
	e.persistAsync(exp)
	return exp, nil
}

// Start activates a Draft experiment.
func (e *Engine) Start(ctx context.Context, id string) error {
	return e.transition(ctx, id, "start", domain.StatusActive, "started")
}

// Pause suspends an Active experiment. Events are rejected until resumed.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.transition(ctx, id, "pause", domain.StatusPaused, "paused")
}

// Resume reactivates a Paused experiment.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.transition(ctx, id, "resume", domain.StatusActive, "resumed")
}

// Cancel terminates an experiment from any non-terminal state.
func (e *Engine) Cancel(ctx context.Context, id string, reason string) error {
	return e.transition(ctx, id, "cancel", domain.StatusCancelled, reason)
}

// Conclude completes an Active experiment and moves it to history. Concluding
// an already-terminal experiment returns false without error and without
// double-appending; unknown ids surface NotFoundError.
func (e *Engine) Conclude(ctx context.Context, id string, reason string) (bool, error) {
	exp, active := e.lookup(id)
	if exp == nil {
		return false, &domain.NotFoundError{Kind: "experiment", ID: id}
	}
	if !active || exp.Status().Terminal() {
		return false, nil
	}
	if err := e.transition(ctx, id, "conclude", domain.StatusCompleted, reason); err != nil {
		// Lost a race against another concluder: still idempotent, not an error.
		var ise *domain.InvalidStateError
		if errors.As(err, &ise) && exp.Status().Terminal() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecordEvent routes one event to an experiment's variation. It never returns
// an error: unknown experiment, unknown variation, and non-Active status all
// yield false, keeping the high-frequency path exception-free.
func (e *Engine) RecordEvent(experimentID, variationID string, kind domain.EventKind, value float64) bool {
	e.mu.RLock()
	exp, ok := e.active[experimentID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	return exp.Record(variationID, kind, value)
}

// transition applies one lifecycle move, handling the active→history handoff
// for terminal states.
func (e *Engine) transition(ctx context.Context, id, op string, to domain.Status, reason string) error {
	e.mu.Lock()
	exp, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		// Terminal experiments live in history and are effectively read-only.
		if hist, _ := e.lookup(id); hist != nil {
			return &domain.InvalidStateError{Op: op, From: hist.Status(), To: to}
		}
		return &domain.NotFoundError{Kind: "experiment", ID: id}
	}

	from := exp.Status()
	if err := exp.Transition(op, to); err != nil {
		e.mu.Unlock()
		return err
	}

	if to.Terminal() {
		delete(e.active, id)
		e.history = append(e.history, HistoryEntry{
			Experiment:  exp,
			Reason:      reason,
			ConcludedAt: e.now(),
		})
	}
	e.mu.Unlock()

	slog.Info("experiment transition", "id", id, "from", from, "to", to, "reason", reason)

	e.notifyTransitionAsync(exp, from, to, reason)
	if to.Terminal() {
		e.appendHistoryAsync(exp, reason)
	}
	e.persistAsync(exp)
	return nil
}
