// Package history persists triage outcomes across builds in a local SQLite
// database. Its one analytical job is the flaky-test signal: a test that
// keeps failing, or whose past verdicts disagree with each other, deserves
// an automation-leaning prior before any fresh evidence is weighed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"verdict/api/schemas"
	"verdict/internal/config"
)

// Outcome is one recorded triage verdict for one test in one build.
type Outcome struct {
	TestName       string
	JobName        string
	BuildNumber    int
	Category       schemas.FailureCategory
	Classification schemas.Classification
	Confidence     float64
	RecordedAt     time.Time
}

// Store reads and writes outcomes. SQLite serializes writers itself; the
// single-connection pool below keeps database/sql from fighting it.
type Store struct {
	db  *sql.DB
	cfg config.HistoryConfig
	log *zap.Logger
}

// Open opens (creating if needed) the outcome database at cfg.Path and runs
// the schema migration.
func Open(cfg config.HistoryConfig, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, cfg: cfg, log: log.Named("history")}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			test_name TEXT NOT NULL,
			job_name TEXT NOT NULL DEFAULT '',
			build_number INTEGER NOT NULL DEFAULT 0,
			category TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL,
			confidence REAL NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_test_time
			ON outcomes(test_name, recorded_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate history database: %w", err)
		}
	}
	return nil
}

// Record appends one outcome. A zero RecordedAt is stamped with the current
// time.
func (s *Store) Record(ctx context.Context, o Outcome) error {
	if o.TestName == "" {
		return fmt.Errorf("record outcome: test name is required")
	}
	when := o.RecordedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (test_name, job_name, build_number, category, classification, confidence, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.TestName, o.JobName, o.BuildNumber, string(o.Category), string(o.Classification), o.Confidence, when.UTC())
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", o.TestName, err)
	}
	return nil
}

// RecentOutcomes returns the outcomes recorded for a test inside the flaky
// window, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, testName string) ([]Outcome, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.FlakyWindowDays)
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_name, job_name, build_number, category, classification, confidence, recorded_at
		FROM outcomes
		WHERE test_name = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC
	`, testName, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for %s: %w", testName, err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var category, classification string
		if err := rows.Scan(&o.TestName, &o.JobName, &o.BuildNumber, &category, &classification, &o.Confidence, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		o.Category = schemas.FailureCategory(category)
		o.Classification = schemas.Classification(classification)
		out = append(out, o)
	}
	return out, rows.Err()
}

// FlakySignal reports whether a test's recorded history looks flaky: at
// least FlakyMinFailures recorded failures inside the window, or past
// verdicts that disagree with each other. The note explains which condition
// fired, for the evidence package.
func (s *Store) FlakySignal(ctx context.Context, testName string) (bool, string, error) {
	recent, err := s.RecentOutcomes(ctx, testName)
	if err != nil {
		return false, "", err
	}
	if len(recent) == 0 {
		return false, "", nil
	}

	verdicts := make(map[schemas.Classification]struct{}, 3)
	for _, o := range recent {
		verdicts[o.Classification] = struct{}{}
	}
	switch {
	case len(verdicts) > 1:
		return true, fmt.Sprintf(
			"%d failures in the last %d days with disagreeing verdicts",
			len(recent), s.cfg.FlakyWindowDays), nil
	case len(recent) >= s.cfg.FlakyMinFailures:
		return true, fmt.Sprintf(
			"%d failures in the last %d days", len(recent), s.cfg.FlakyWindowDays), nil
	}
	return false, "", nil
}
