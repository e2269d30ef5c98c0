package storage

// sqlite.go — reference implementation of the persistence collaborator.
//
// Layout:
//   - `experiments`: one row per experiment (UPSERT on save).
//   - `variations`:  one row per arm, counters included.
//   - `results`:     latest evaluation per experiment (UPSERT).
//   - `history`:     append-only sink for terminal experiments.
//   - Prune at startup: history entries older than 90 days.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/adelgado/ablab/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    name              TEXT NOT NULL,
    hypothesis        TEXT,
    primary_metric    TEXT NOT NULL,
    secondary_metrics TEXT,
    control_id        TEXT NOT NULL,
    status            TEXT NOT NULL,
    min_sample_size   INTEGER NOT NULL,
    min_effect_size   REAL    NOT NULL,
    power             REAL    NOT NULL,
    alpha             REAL    NOT NULL,
    start_date        DATETIME NOT NULL,
    planned_end       DATETIME NOT NULL,
    actual_end        DATETIME,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS variations (
    experiment_id TEXT NOT NULL,
    id            TEXT NOT NULL,
    name          TEXT,
    traffic_pct   REAL    NOT NULL,
    position      INTEGER NOT NULL,
    impressions   INTEGER NOT NULL DEFAULT 0,
    clicks        INTEGER NOT NULL DEFAULT 0,
    conversions   INTEGER NOT NULL DEFAULT 0,
    revenue       REAL    NOT NULL DEFAULT 0,
    ci_low        REAL    NOT NULL DEFAULT 0,
    ci_high       REAL    NOT NULL DEFAULT 0,
    power         REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (experiment_id, id)
);

CREATE TABLE IF NOT EXISTS results (
    experiment_id        TEXT PRIMARY KEY,
    total_impressions    INTEGER NOT NULL DEFAULT 0,
    total_conversions    INTEGER NOT NULL DEFAULT 0,
    duration_days        INTEGER NOT NULL DEFAULT 0,
    winning_variation_id TEXT,
    confidence_level     REAL NOT NULL DEFAULT 0,
    significance         TEXT NOT NULL,
    p_value              REAL NOT NULL DEFAULT 1,
    effect_size          REAL NOT NULL DEFAULT 0,
    achieved_power       REAL NOT NULL DEFAULT 0,
    required_sample      INTEGER NOT NULL DEFAULT 0,
    actual_sample        INTEGER NOT NULL DEFAULT 0,
    est_days_to_sig      INTEGER NOT NULL DEFAULT 0,
    projected_lift       REAL NOT NULL DEFAULT 0,
    revenue_impact       REAL NOT NULL DEFAULT 0,
    calculated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    owner_id      TEXT NOT NULL,
    status        TEXT NOT NULL,
    reason        TEXT,
    concluded_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exp_owner     ON experiments(owner_id);
CREATE INDEX IF NOT EXISTS idx_exp_status    ON experiments(status);
CREATE INDEX IF NOT EXISTS idx_hist_exp      ON history(experiment_id);
CREATE INDEX IF NOT EXISTS idx_hist_concl    ON history(concluded_at DESC);
`

const historyRetention = 90 * 24 * time.Hour

// SQLiteStore implements ports.ExperimentStore using SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path, applies
// the schema and prunes stale history.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveExperiment upserts the experiment, its variations, and its latest
// result in one transaction.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, rec domain.ExperimentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveExperiment: begin tx: %w", err)
	}
	defer tx.Rollback()

	var actualEnd any
	if rec.ActualEnd != nil {
		actualEnd = rec.ActualEnd.UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO experiments
			(id, owner_id, name, hypothesis, primary_metric, secondary_metrics,
			 control_id, status, min_sample_size, min_effect_size, power, alpha,
			 start_date, planned_end, actual_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			actual_end = excluded.actual_end,
			updated_at = excluded.updated_at
	`,
		rec.ID, rec.OwnerID, rec.Name, rec.Hypothesis,
		string(rec.PrimaryMetric), joinMetrics(rec.SecondaryMetrics),
		rec.ControlID, string(rec.Status),
		rec.MinSampleSize, rec.MinEffectSize, rec.Power, rec.Alpha,
		rec.StartDate.UTC(), rec.PlannedEnd.UTC(), actualEnd,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage.SaveExperiment: upsert experiment %s: %w", rec.ID, err)
	}

	for i, v := range rec.Variations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO variations
				(experiment_id, id, name, traffic_pct, position,
				 impressions, clicks, conversions, revenue, ci_low, ci_high, power)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(experiment_id, id) DO UPDATE SET
				impressions = excluded.impressions,
				clicks      = excluded.clicks,
				conversions = excluded.conversions,
				revenue     = excluded.revenue,
				ci_low      = excluded.ci_low,
				ci_high     = excluded.ci_high,
				power       = excluded.power
		`,
			rec.ID, v.ID, v.Name, v.TrafficPct, i,
			v.Impressions, v.Clicks, v.Conversions, v.Revenue,
			v.ConfidenceInterval[0], v.ConfidenceInterval[1], v.Power,
		); err != nil {
			return fmt.Errorf("storage.SaveExperiment: upsert variation %s/%s: %w", rec.ID, v.ID, err)
		}
	}

	if rec.Result != nil {
		r := rec.Result
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO results
				(experiment_id, total_impressions, total_conversions, duration_days,
				 winning_variation_id, confidence_level, significance, p_value, effect_size,
				 achieved_power, required_sample, actual_sample, est_days_to_sig,
				 projected_lift, revenue_impact, calculated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(experiment_id) DO UPDATE SET
				total_impressions    = excluded.total_impressions,
				total_conversions    = excluded.total_conversions,
				duration_days        = excluded.duration_days,
				winning_variation_id = excluded.winning_variation_id,
				confidence_level     = excluded.confidence_level,
				significance         = excluded.significance,
				p_value              = excluded.p_value,
				effect_size          = excluded.effect_size,
				achieved_power       = excluded.achieved_power,
				required_sample      = excluded.required_sample,
				actual_sample        = excluded.actual_sample,
				est_days_to_sig      = excluded.est_days_to_sig,
				projected_lift       = excluded.projected_lift,
				revenue_impact       = excluded.revenue_impact,
				calculated_at        = excluded.calculated_at
		`,
			rec.ID, r.TotalImpressions, r.TotalConversions, r.DurationDays,
			r.WinningVariationID, r.ConfidenceLevel, string(r.Significance),
			r.PValue, r.EffectSize,
			r.PowerAnalysis.AchievedPower, r.PowerAnalysis.RequiredSampleSize,
			r.PowerAnalysis.ActualSampleSize, r.PowerAnalysis.EstimatedDaysToSignificance,
			r.ProjectedLift, r.EstimatedRevenueImpact, r.CalculatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("storage.SaveExperiment: upsert result %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveExperiment: commit: %w", err)
	}
	return nil
}

// AppendHistory records a terminal experiment in the append-only sink.
func (s *SQLiteStore) AppendHistory(ctx context.Context, rec domain.ExperimentRecord, reason string) error {
	concluded := time.Now().UTC()
	if rec.ActualEnd != nil {
		concluded = rec.ActualEnd.UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO history (experiment_id, owner_id, status, reason, concluded_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, string(rec.Status), reason, concluded,
	); err != nil {
		return fmt.Errorf("storage.AppendHistory: insert %s: %w", rec.ID, err)
	}
	return nil
}

// GetExperiment loads one experiment snapshot by id.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (domain.ExperimentRecord, error) {
	recs, err := s.query(ctx, `WHERE e.id = ?`, id)
	if err != nil {
		return domain.ExperimentRecord{}, err
	}
	if len(recs) == 0 {
		return domain.ExperimentRecord{}, &domain.NotFoundError{Kind: "experiment", ID: id}
	}
	return recs[0], nil
}

// ListByOwner returns all stored snapshots for an owner, newest first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.ExperimentRecord, error) {
	return s.query(ctx, `WHERE e.owner_id = ? ORDER BY e.created_at DESC`, ownerID)
}

// HistoryCount returns how many history entries exist for one experiment.
// Used by tests and diagnostics to verify single-append semantics.
func (s *SQLiteStore) HistoryCount(ctx context.Context, experimentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history WHERE experiment_id = ?`, experimentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.HistoryCount: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- internal helpers ---

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]domain.ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.owner_id, e.name, e.hypothesis, e.primary_metric,
		       e.secondary_metrics, e.control_id, e.status, e.min_sample_size,
		       e.min_effect_size, e.power, e.alpha,
		       e.start_date, e.planned_end, e.actual_end, e.created_at, e.updated_at
		FROM experiments e `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.query: experiments: %w", err)
	}
	defer rows.Close()

	var recs []domain.ExperimentRecord
	for rows.Next() {
		var rec domain.ExperimentRecord
		var metric, status, secondary string
		var hypothesis, actualEnd sql.NullString
		var start, planned, created, updated string

		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.Name, &hypothesis, &metric,
			&secondary, &rec.ControlID, &status, &rec.MinSampleSize,
			&rec.MinEffectSize, &rec.Power, &rec.Alpha,
			&start, &planned, &actualEnd, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("storage.query: scan experiment: %w", err)
		}

		rec.Hypothesis = hypothesis.String
		rec.PrimaryMetric = domain.MetricKind(metric)
		rec.SecondaryMetrics = splitMetrics(secondary)
		rec.Status = domain.Status(status)
		rec.StartDate = parseTime(start)
		rec.PlannedEnd = parseTime(planned)
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		if actualEnd.Valid && actualEnd.String != "" {
			t := parseTime(actualEnd.String)
			rec.ActualEnd = &t
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.query: rows: %w", err)
	}

	for i := range recs {
		if err := s.loadVariations(ctx, &recs[i]); err != nil {
			return nil, err
		}
		if err := s.loadResult(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *SQLiteStore) loadVariations(ctx context.Context, rec *domain.ExperimentRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, traffic_pct, impressions, clicks, conversions, revenue,
		       ci_low, ci_high, power
		FROM variations WHERE experiment_id = ? ORDER BY position
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("storage.loadVariations: %s: %w", rec.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.VariationSnapshot
		var name sql.NullString
		if err := rows.Scan(
			&v.ID, &name, &v.TrafficPct,
			&v.Impressions, &v.Clicks, &v.Conversions, &v.Revenue,
			&v.ConfidenceInterval[0], &v.ConfidenceInterval[1], &v.Power,
		); err != nil {
			return fmt.Errorf("storage.loadVariations: scan: %w", err)
		}
		v.Name = name.String
		rec.Variations = append(rec.Variations, v)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadResult(ctx context.Context, rec *domain.ExperimentRecord) error {
	var r domain.Result
	var winner sql.NullString
	var tier, calculated string

	err := s.db.QueryRowContext(ctx, `
		SELECT total_impressions, total_conversions, duration_days,
		       winning_variation_id, confidence_level, significance, p_value, effect_size,
		       achieved_power, required_sample, actual_sample, est_days_to_sig,
		       projected_lift, revenue_impact, calculated_at
		FROM results WHERE experiment_id = ?
	`, rec.ID).Scan(
		&r.TotalImpressions, &r.TotalConversions, &r.DurationDays,
		&winner, &r.ConfidenceLevel, &tier, &r.PValue, &r.EffectSize,
		&r.PowerAnalysis.AchievedPower, &r.PowerAnalysis.RequiredSampleSize,
		&r.PowerAnalysis.ActualSampleSize, &r.PowerAnalysis.EstimatedDaysToSignificance,
		&r.ProjectedLift, &r.EstimatedRevenueImpact, &calculated,
	)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage.loadResult: %s: %w", rec.ID, err)
	}

	r.ExperimentID = rec.ID
	r.WinningVariationID = winner.String
	r.Significance = domain.Tier(tier)
	r.CalculatedAt = parseTime(calculated)
	rec.Result = &r
	return nil
}

// pruneOld drops history entries past retention to keep the DB light.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-historyRetention)
	s.db.ExecContext(ctx, `DELETE FROM history WHERE concluded_at < ?`, cutoff)
}

func joinMetrics(ms []domain.MetricKind) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

func splitMetrics(s string) []domain.MetricKind {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]domain.MetricKind, len(parts))
	for i, p := range parts {
		out[i] = domain.MetricKind(p)
	}
	return out
}

// parseTime tolerates the formats the driver emits for DATETIME columns.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
