package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adelgado/ablab/internal/domain"
	"github.com/adelgado/ablab/internal/ports"
)

// DefaultMinTestDuration is the minimum runtime before the readiness gate
// considers an experiment evaluable.
const DefaultMinTestDuration = 7 * 24 * time.Hour

// sideEffectTimeout bounds the async persistence/notification calls so a hung
// collaborator cannot leak goroutines forever.
const sideEffectTimeout = 5 * time.Second

// Config holds engine-level settings.
type Config struct {
	MinTestDuration time.Duration
}

// Engine owns the active-experiment registry and the evaluator. It is a plain
// value constructed per process (or per test) — never a package-level global —
// so isolated instances can run concurrently.
//
// Store, notifier and recommender are optional collaborators: a nil store
// means in-memory only, a nil notifier is silent, a nil recommender falls back
// to the built-in advice table.
type Engine struct {
	cfg         Config
	store       ports.ExperimentStore
	notifier    ports.Notifier
	recommender ports.Recommender
	now         func() time.Time

	mu      sync.RWMutex
	active  map[string]*domain.Experiment
	history []HistoryEntry
}

// HistoryEntry is one concluded experiment in the append-only history.
type HistoryEntry struct {
	Experiment  *domain.Experiment
	Reason      string
	ConcludedAt time.Time
}

// New creates an engine with the given collaborators, any of which may be nil.
func New(cfg Config, store ports.ExperimentStore, notifier ports.Notifier, recommender ports.Recommender) *Engine {
	if cfg.MinTestDuration <= 0 {
		cfg.MinTestDuration = DefaultMinTestDuration
	}
	return &Engine{
		cfg:         cfg,
		store:       store,
		notifier:    notifier,
		recommender: recommender,
		now:         func() time.Time { return time.Now().UTC() },
		active:      make(map[string]*domain.Experiment),
	}
}

// lookup finds an experiment in the active set or the history.
// The second return distinguishes active from concluded.
func (e *Engine) lookup(id string) (exp *domain.Experiment, active bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if exp, ok := e.active[id]; ok {
		return exp, true
	}
	for _, h := range e.history {
		if h.Experiment.ID == id {
			return h.Experiment, false
		}
	}
	return nil, false
}

// Get returns any known experiment by id.
func (e *Engine) Get(id string) (*domain.Experiment, error) {
	exp, _ := e.lookup(id)
	if exp == nil {
		return nil, &domain.NotFoundError{Kind: "experiment", ID: id}
	}
	return exp, nil
}

// History returns a copy of the append-only history.
func (e *Engine) History() []HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]HistoryEntry(nil), e.history...)
}

// ActiveCount returns how many experiments are in the active set.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// --- async side effects ---
//
// Persistence and notification are external collaborators invoked outside the
// critical sections, fire-and-forget, so they never block the event-recording
// hot path.

func (e *Engine) persistAsync(exp *domain.Experiment) {
	if e.store == nil {
		return
	}
	rec := exp.Export()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := e.store.SaveExperiment(ctx, rec); err != nil {
			slog.Warn("engine: persist experiment failed", "id", rec.ID, "err", err)
		}
	}()
}

func (e *Engine) appendHistoryAsync(exp *domain.Experiment, reason string) {
	if e.store == nil {
		return
	}
	rec := exp.Export()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := e.store.AppendHistory(ctx, rec, reason); err != nil {
			slog.Warn("engine: append history failed", "id", rec.ID, "err", err)
		}
	}()
}

func (e *Engine) notifyTransitionAsync(exp *domain.Experiment, from, to domain.Status, reason string) {
	if e.notifier == nil {
		return
	}
	ev := ports.TransitionEvent{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		From:         from,
		To:           to,
		Reason:       reason,
		At:           e.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := e.notifier.NotifyTransition(ctx, ev); err != nil {
			slog.Warn("engine: notify transition failed", "id", ev.ExperimentID, "err", err)
		}
	}()
}

func (e *Engine) notifyResultAsync(exp *domain.Experiment, res domain.Result, advice ports.Recommendation) {
	if e.notifier == nil {
		return
	}
	rec := exp.Export()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := e.notifier.NotifyResult(ctx, rec, res, advice); err != nil {
			slog.Warn("engine: notify result failed", "id", rec.ID, "err", err)
		}
	}()
}
