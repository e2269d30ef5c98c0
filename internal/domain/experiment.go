package domain

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// legalTransitions is the closed transition table. Anything absent fails with
// InvalidStateError.
var legalTransitions = map[Status]map[Status]bool{
	StatusDraft:  {StatusActive: true, StatusCancelled: true},
	StatusActive: {StatusPaused: true, StatusCompleted: true, StatusCancelled: true},
	StatusPaused: {StatusActive: true, StatusCancelled: true},
}

// trafficTolerance is how far the traffic allocation may drift from 100%.
const trafficTolerance = 0.01

// VariationConfig describes one arm at experiment creation.
type VariationConfig struct {
	ID         string
	Name       string
	TrafficPct float64
}

// ExperimentConfig is the caller-supplied portion of an experiment.
type ExperimentConfig struct {
	Name             string
	Hypothesis       string
	PrimaryMetric    MetricKind
	SecondaryMetrics []MetricKind
	ControlID        string
	MinEffectSize    float64
	Power            float64
	Alpha            float64
	StartDate        time.Time // defaults to now
	PlannedEnd       time.Time // defaults to start + 30d
}

// Variation is one arm of an experiment. Counters are guarded by the arm's own
// mutex so concurrent recording never loses updates and derived rates are
// never observed half-recomputed.
type Variation struct {
	ID         string
	Name       string
	TrafficPct float64

	mu          sync.Mutex
	impressions int64
	clicks      int64
	conversions int64
	revenue     float64

	ctr               float64
	conversionRate    float64
	revenuePerVisitor float64

	// written by the evaluator, vs. control
	confidenceInterval [2]float64
	power              float64
}

// Record applies one event to the arm's counters and recomputes the derived
// rates in the same critical section. Unknown event kinds are deliberate
// no-ops: the hot path tolerates typos instead of branching on errors.
//
// For conversions, value is the revenue contribution: 0 means "not provided"
// and defaults to 1.0; negative values contribute nothing.
func (v *Variation) Record(kind EventKind, value float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch kind {
	case EventImpression:
		v.impressions++
	case EventClick:
		v.clicks++
	case EventConversion:
		v.conversions++
		switch {
		case value == 0:
			v.revenue += 1.0
		case value > 0:
			v.revenue += value
		}
	default:
		return
	}
	v.recomputeLocked()
}

// recomputeLocked refreshes the derived rates from the current counters.
// Callers must hold v.mu.
func (v *Variation) recomputeLocked() {
	if v.impressions > 0 {
		v.ctr = float64(v.clicks) / float64(v.impressions) * 100
	} else {
		v.ctr = 0
	}

	switch {
	case v.clicks > 0:
		v.conversionRate = float64(v.conversions) / float64(v.clicks) * 100
		v.revenuePerVisitor = v.revenue / float64(v.clicks)
	case v.impressions > 0:
		v.conversionRate = float64(v.conversions) / float64(v.impressions) * 100
		v.revenuePerVisitor = v.revenue / float64(v.impressions)
	default:
		v.conversionRate = 0
		v.revenuePerVisitor = 0
	}
}

// CTR returns the cached click-through rate (%) maintained by Record.
func (v *Variation) CTR() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctr
}

// ConversionRate returns the cached conversion rate (%) maintained by Record.
func (v *Variation) ConversionRate() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conversionRate
}

// RevenuePerVisitor returns the cached revenue-per-visitor maintained by Record.
func (v *Variation) RevenuePerVisitor() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.revenuePerVisitor
}

// Snapshot returns an immutable copy of the arm's counters and derived rates.
func (v *Variation) Snapshot() VariationSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VariationSnapshot{
		ID:                 v.ID,
		Name:               v.Name,
		TrafficPct:         v.TrafficPct,
		Impressions:        v.impressions,
		Clicks:             v.clicks,
		Conversions:        v.conversions,
		Revenue:            v.revenue,
		ConfidenceInterval: v.confidenceInterval,
		Power:              v.power,
	}
}

// SetEvaluation stores the evaluator's per-arm statistics.
func (v *Variation) SetEvaluation(ci [2]float64, power float64) {
	v.mu.Lock()
	v.confidenceInterval = ci
	v.power = power
	v.mu.Unlock()
}

// restore reloads persisted counters, e.g. when an adapter rehydrates an
// experiment from storage.
func (v *Variation) restore(impressions, clicks, conversions int64, revenue float64) {
	v.mu.Lock()
	v.impressions = impressions
	v.clicks = clicks
	v.conversions = conversions
	v.revenue = revenue
	v.recomputeLocked()
	v.mu.Unlock()
}

// VariationSnapshot is a consistent, lock-free copy of one arm used by the
// statistical engine and by adapters.
type VariationSnapshot struct {
	ID                 string
	Name               string
	TrafficPct         float64
	Impressions        int64
	Clicks             int64
	Conversions        int64
	Revenue            float64
	ConfidenceInterval [2]float64
	Power              float64
}

// CTR returns clicks per impression as a percentage.
func (s VariationSnapshot) CTR() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Clicks) / float64(s.Impressions) * 100
}

// ConversionRate returns conversions per click (or per impression when no
// clicks were recorded) as a percentage.
func (s VariationSnapshot) ConversionRate() float64 {
	switch {
	case s.Clicks > 0:
		return float64(s.Conversions) / float64(s.Clicks) * 100
	case s.Impressions > 0:
		return float64(s.Conversions) / float64(s.Impressions) * 100
	default:
		return 0
	}
}

// RevenuePerVisitor returns revenue per click, falling back to per impression.
func (s VariationSnapshot) RevenuePerVisitor() float64 {
	switch {
	case s.Clicks > 0:
		return s.Revenue / float64(s.Clicks)
	case s.Impressions > 0:
		return s.Revenue / float64(s.Impressions)
	default:
		return 0
	}
}

// Visitors returns the denominator used for per-visitor means.
func (s VariationSnapshot) Visitors() int64 {
	if s.Clicks > 0 {
		return s.Clicks
	}
	return s.Impressions
}

// PowerAnalysis is the evaluator's sample-size accounting for one result.
type PowerAnalysis struct {
	AchievedPower               float64 // proxy: min(0.95, conversions/minSample)
	RequiredSampleSize          int
	ActualSampleSize            int64
	EstimatedDaysToSignificance int
}

// Result is a read-only derived snapshot of one evaluation. It never mutates
// counters retroactively.
type Result struct {
	ExperimentID           string
	TotalImpressions       int64
	TotalConversions       int64
	DurationDays           int
	WinningVariationID     string // empty: no arm beat control with enough confidence
	ConfidenceLevel        float64
	Significance           Tier
	PValue                 float64
	EffectSize             float64
	PowerAnalysis          PowerAnalysis
	ProjectedLift          float64 // %, relative to control's primary metric
	EstimatedRevenueImpact float64 // annualized projection, no seasonality model
	CalculatedAt           time.Time
}

// HasWinner reports whether the evaluation declared a winning arm.
func (r Result) HasWinner() bool {
	return r.WinningVariationID != ""
}

// Experiment owns one test's configuration, arms, lifecycle state, and latest
// result. Variations are fixed at creation; status and result are guarded by
// the experiment mutex, counters by the per-arm mutexes.
type Experiment struct {
	ID               string
	OwnerID          string
	Name             string
	Hypothesis       string
	PrimaryMetric    MetricKind
	SecondaryMetrics []MetricKind
	ControlID        string
	MinSampleSize    int
	MinEffectSize    float64
	Power            float64
	Alpha            float64
	StartDate        time.Time
	PlannedEnd       time.Time
	CreatedAt        time.Time

	variations []*Variation
	varByID    map[string]*Variation

	mu        sync.RWMutex
	status    Status
	actualEnd *time.Time
	result    *Result
	updatedAt time.Time
}

// NewExperiment validates the configuration, derives the minimum sample size
// and returns a Draft experiment. All configuration failures are
// ValidationErrors; nothing is partially constructed.
func NewExperiment(ownerID string, cfg ExperimentConfig, variations []VariationConfig) (*Experiment, error) {
	if ownerID == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "must not be empty"}
	}
	if cfg.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !cfg.PrimaryMetric.Valid() {
		return nil, &ValidationError{Field: "primary_metric", Reason: fmt.Sprintf("unsupported metric kind %q", cfg.PrimaryMetric)}
	}
	for _, m := range cfg.SecondaryMetrics {
		if !m.Valid() {
			return nil, &ValidationError{Field: "secondary_metrics", Reason: fmt.Sprintf("unsupported metric kind %q", m)}
		}
	}
	if len(variations) < 2 {
		return nil, &ValidationError{Field: "variations", Reason: "need at least 2 variations"}
	}

	seen := make(map[string]bool, len(variations))
	sum := 0.0
	for _, vc := range variations {
		if vc.ID == "" {
			return nil, &ValidationError{Field: "variations", Reason: "variation id must not be empty"}
		}
		if seen[vc.ID] {
			return nil, &ValidationError{Field: "variations", Reason: fmt.Sprintf("duplicate variation id %q", vc.ID)}
		}
		seen[vc.ID] = true
		if vc.TrafficPct < 0 || vc.TrafficPct > 100 {
			return nil, &ValidationError{Field: "traffic_allocation", Reason: fmt.Sprintf("variation %q allocation %.2f out of range", vc.ID, vc.TrafficPct)}
		}
		sum += vc.TrafficPct
	}
	if math.Abs(sum-100) > trafficTolerance {
		return nil, &ValidationError{Field: "traffic_allocation", Reason: fmt.Sprintf("must sum to 100, got %.2f", sum)}
	}
	if !seen[cfg.ControlID] {
		return nil, &ValidationError{Field: "control_id", Reason: fmt.Sprintf("%q is not a variation", cfg.ControlID)}
	}

	if cfg.MinEffectSize <= 0 {
		return nil, &ValidationError{Field: "min_effect_size", Reason: "must be positive"}
	}
	if cfg.Power <= 0 || cfg.Power >= 1 {
		return nil, &ValidationError{Field: "power", Reason: "must be in (0, 1)"}
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		return nil, &ValidationError{Field: "alpha", Reason: "must be in (0, 1)"}
	}

	now := time.Now().UTC()
	start := cfg.StartDate
	if start.IsZero() {
		start = now
	}
	end := cfg.PlannedEnd
	if end.IsZero() {
		end = start.Add(30 * 24 * time.Hour)
	}
	if !end.After(start) {
		return nil, &ValidationError{Field: "planned_end", Reason: "must be after start date"}
	}

	minSample := PlanSampleSize(cfg.PrimaryMetric, cfg.MinEffectSize, cfg.Power, cfg.Alpha)
	if minSample < 1 {
		return nil, &ValidationError{Field: "min_sample_size", Reason: "derived sample size must be positive"}
	}

	exp := &Experiment{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		Name:             cfg.Name,
		Hypothesis:       cfg.Hypothesis,
		PrimaryMetric:    cfg.PrimaryMetric,
		SecondaryMetrics: append([]MetricKind(nil), cfg.SecondaryMetrics...),
		ControlID:        cfg.ControlID,
		MinSampleSize:    minSample,
		MinEffectSize:    cfg.MinEffectSize,
		Power:            cfg.Power,
		Alpha:            cfg.Alpha,
		StartDate:        start,
		PlannedEnd:       end,
		CreatedAt:        now,
		varByID:          make(map[string]*Variation, len(variations)),
		status:           StatusDraft,
		updatedAt:        now,
	}
	for _, vc := range variations {
		v := &Variation{ID: vc.ID, Name: vc.Name, TrafficPct: vc.TrafficPct}
		exp.variations = append(exp.variations, v)
		exp.varByID[vc.ID] = v
	}
	return exp, nil
}

// Status returns the current lifecycle state.
func (e *Experiment) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Transition moves the experiment to the given state, enforcing the closed
// transition table. Terminal transitions stamp the actual end date.
func (e *Experiment) Transition(op string, to Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !legalTransitions[e.status][to] {
		return &InvalidStateError{Op: op, From: e.status, To: to}
	}
	e.status = to
	e.updatedAt = time.Now().UTC()
	if to.Terminal() {
		t := e.updatedAt
		e.actualEnd = &t
	}
	return nil
}

// Record routes one event to a variation. It returns false, never an error,
// when the experiment is not Active or the variation id is unknown: the
// high-frequency event path stays exception-free.
func (e *Experiment) Record(variationID string, kind EventKind, value float64) bool {
	e.mu.RLock()
	active := e.status == StatusActive
	e.mu.RUnlock()
	if !active {
		return false
	}

	v, ok := e.varByID[variationID]
	if !ok {
		return false
	}
	v.Record(kind, value)
	return true
}

// Variation returns the arm with the given id, or nil.
func (e *Experiment) Variation(id string) *Variation {
	return e.varByID[id]
}

// Variations returns the arms in creation order.
func (e *Experiment) Variations() []*Variation {
	return e.variations
}

// Snapshots copies every arm's counters in creation order. Each arm is locked
// only for its own copy; the numeric computation downstream runs lock-free.
func (e *Experiment) Snapshots() []VariationSnapshot {
	out := make([]VariationSnapshot, 0, len(e.variations))
	for _, v := range e.variations {
		out = append(out, v.Snapshot())
	}
	return out
}

// Result returns the latest evaluation, or nil if never evaluated.
func (e *Experiment) Result() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// SetResult stores the latest evaluation.
func (e *Experiment) SetResult(r Result) {
	e.mu.Lock()
	e.result = &r
	e.updatedAt = time.Now().UTC()
	e.mu.Unlock()
}

// DaysRunning returns whole days elapsed since the start date, never negative.
func (e *Experiment) DaysRunning(now time.Time) int {
	d := int(now.Sub(e.StartDate).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// ActualEnd returns when the experiment reached a terminal state, or nil.
func (e *Experiment) ActualEnd() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.actualEnd
}

// Export produces the storable snapshot of the whole experiment.
func (e *Experiment) Export() ExperimentRecord {
	e.mu.RLock()
	status := e.status
	updated := e.updatedAt
	var end *time.Time
	if e.actualEnd != nil {
		t := *e.actualEnd
		end = &t
	}
	var res *Result
	if e.result != nil {
		r := *e.result
		res = &r
	}
	e.mu.RUnlock()

	return ExperimentRecord{
		ID:               e.ID,
		OwnerID:          e.OwnerID,
		Name:             e.Name,
		Hypothesis:       e.Hypothesis,
		PrimaryMetric:    e.PrimaryMetric,
		SecondaryMetrics: append([]MetricKind(nil), e.SecondaryMetrics...),
		ControlID:        e.ControlID,
		MinSampleSize:    e.MinSampleSize,
		MinEffectSize:    e.MinEffectSize,
		Power:            e.Power,
		Alpha:            e.Alpha,
		Status:           status,
		StartDate:        e.StartDate,
		PlannedEnd:       e.PlannedEnd,
		ActualEnd:        end,
		Variations:       e.Snapshots(),
		Result:           res,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        updated,
	}
}

// Restore rebuilds an experiment from a stored record, counters included.
// Used by storage adapters; validation already happened at creation time.
func Restore(rec ExperimentRecord) *Experiment {
	exp := &Experiment{
		ID:               rec.ID,
		OwnerID:          rec.OwnerID,
		Name:             rec.Name,
		Hypothesis:       rec.Hypothesis,
		PrimaryMetric:    rec.PrimaryMetric,
		SecondaryMetrics: append([]MetricKind(nil), rec.SecondaryMetrics...),
		ControlID:        rec.ControlID,
		MinSampleSize:    rec.MinSampleSize,
		MinEffectSize:    rec.MinEffectSize,
		Power:            rec.Power,
		Alpha:            rec.Alpha,
		StartDate:        rec.StartDate,
		PlannedEnd:       rec.PlannedEnd,
		CreatedAt:        rec.CreatedAt,
		varByID:          make(map[string]*Variation, len(rec.Variations)),
		status:           rec.Status,
		updatedAt:        rec.UpdatedAt,
	}
	if rec.ActualEnd != nil {
		t := *rec.ActualEnd
		exp.actualEnd = &t
	}
	if rec.Result != nil {
		r := *rec.Result
		exp.result = &r
	}
	for _, s := range rec.Variations {
		v := &Variation{ID: s.ID, Name: s.Name, TrafficPct: s.TrafficPct}
		v.restore(s.Impressions, s.Clicks, s.Conversions, s.Revenue)
		v.SetEvaluation(s.ConfidenceInterval, s.Power)
		exp.variations = append(exp.variations, v)
		exp.varByID[s.ID] = v
	}
	return exp
}

// ExperimentRecord is the immutable, storable snapshot of an experiment.
type ExperimentRecord struct {
	ID               string
	OwnerID          string
	Name             string
	Hypothesis       string
	PrimaryMetric    MetricKind
	SecondaryMetrics []MetricKind
	ControlID        string
	MinSampleSize    int
	MinEffectSize    float64
	Power            float64
	Alpha            float64
	Status           Status
	StartDate        time.Time
	PlannedEnd       time.Time
	ActualEnd        *time.Time
	Variations       []VariationSnapshot
	Result           *Result
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
