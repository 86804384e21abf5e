// Package ledger keeps the run history: one row per engine invocation
// and one per executed step. It is bookkeeping only — the catalog
// record, not the ledger, is the source of truth for staleness.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/vk/datakiln/internal/scheduler"
)

// Ledger is a run-history store backed by a SQLite database.
type Ledger struct {
	db *sql.DB
}

// Run is one recorded engine invocation.
type Run struct {
	ID          int64
	Query       string
	Force       bool
	Fingerprint uint64
	Started     time.Time
	Finished    time.Time
	Built       int
	Fresh       int
	Failed      int
	Skipped     int
}

// StepRun is one step's outcome within a run.
type StepRun struct {
	RunID    int64
	URI      string
	Outcome  string
	Reason   string
	Checksum string
	Error    string
	Duration time.Duration
}

// Open creates (or opens) the ledger database at path, initializing the
// schema if needed. Parent directories are created.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT NOT NULL,
			force_run INTEGER NOT NULL,
			fingerprint TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			built INTEGER NOT NULL DEFAULT 0,
			fresh INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS step_runs (
			run_id INTEGER NOT NULL REFERENCES runs(id),
			uri TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			checksum TEXT NOT NULL,
			error TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_step_runs_run ON step_runs(run_id);`,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

// BeginRun records the start of an invocation and returns its row id.
func (l *Ledger) BeginRun(query string, force bool, fingerprint uint64) (int64, error) {
	res, err := l.db.Exec(`
		INSERT INTO runs (query, force_run, fingerprint, started_at)
		VALUES (?, ?, ?, ?)`,
		query, boolInt(force), fmt.Sprintf("%016x", fingerprint), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps the run's end time, per-outcome counts and step rows
// from the final report.
func (l *Ledger) FinishRun(runID int64, report *scheduler.Report) error {
	counts := report.Counts()
	_, err := l.db.Exec(`
		UPDATE runs SET finished_at = ?, built = ?, fresh = ?, failed = ?, skipped = ?
		WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		counts[scheduler.OutcomeBuilt],
		counts[scheduler.OutcomeFresh],
		counts[scheduler.OutcomeFailed],
		counts[scheduler.OutcomeSkipped],
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}

	for _, res := range report.Results {
		errStr := ""
		if res.Err != nil {
			errStr = res.Err.Error()
		}
		_, err := l.db.Exec(`
			INSERT INTO step_runs (run_id, uri, outcome, reason, checksum, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, res.Identity.String(), string(res.Outcome), res.Reason,
			res.Digest, errStr, res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to record step %s: %w", res.Identity, err)
		}
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(`
		SELECT id, query, force_run, fingerprint, started_at, COALESCE(finished_at, ''),
		       built, fresh, failed, skipped
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var force int
		var fingerprint, started, finished string
		if err := rows.Scan(&r.ID, &r.Query, &force, &fingerprint, &started, &finished,
			&r.Built, &r.Fresh, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		r.Force = force != 0
		if _, err := fmt.Sscanf(fingerprint, "%x", &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("run %d has corrupt fingerprint %q: %w", r.ID, fingerprint, err)
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			r.Finished, _ = time.Parse(time.RFC3339Nano, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StepRuns returns the per-step rows of a run in insertion order.
func (l *Ledger) StepRuns(runID int64) ([]StepRun, error) {
	rows, err := l.db.Query(`
		SELECT run_id, uri, outcome, reason, checksum, error, duration_ms
		FROM step_runs WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step runs: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		var s StepRun
		var ms int64
		if err := rows.Scan(&s.RunID, &s.URI, &s.Outcome, &s.Reason, &s.Checksum, &s.Error, &ms); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
