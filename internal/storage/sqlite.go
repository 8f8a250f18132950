// Package storage is the run catalog: a sqlite index of runs and per-phase
// outcomes for listing and monitoring, plus the validation knowledge base.
// The catalog is derived state for display; dependency decisions always read
// the per-run event log, never this database.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// RunStatus is the catalog-level state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// RunRecord is one catalog row.
type RunRecord struct {
	Name          string
	Brief         string
	Pipeline      string
	Status        RunStatus
	WorkspacePath string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// PhaseRecord mirrors a phase's latest outcome for display.
type PhaseRecord struct {
	RunName     string
	Phase       string
	Status      string
	ExitCode    *int
	Attempts    int
	DurationSec *int64
	UpdatedAt   time.Time
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		name TEXT PRIMARY KEY,
		brief TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		workspace_path TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS phases (
		run_name TEXT NOT NULL REFERENCES runs(name),
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		duration_sec INTEGER,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_name, phase)
	);

	CREATE TABLE IF NOT EXISTS knowledge (
		signature TEXT PRIMARY KEY,
		remediation TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.seedKnowledge()
}

// seedKnowledge installs default remediations for the failure signatures the
// validation loop classifies. INSERT OR IGNORE keeps operator edits intact.
func (s *Store) seedKnowledge() error {
	defaults := map[string]string{
		"missing-dependency": "a required tool or package is absent; install it and re-run the validation stage",
		"type-mismatch":      "the generated artifact violates the project's type contracts; re-run the synthesis phase",
		"assertion-failure":  "a unit test assertion failed; inspect the failing test in the stage log",
		"timeout":            "the stage ran out of time; raise the stage timeout or split the check",
		"lint-violation":     "style check failed; run the formatter over the artifact and retry",
	}
	for signature, remediation := range defaults {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO knowledge (signature, remediation) VALUES (?, ?)`,
			signature, remediation,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateRun(run *RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (name, brief, pipeline, status, workspace_path) VALUES (?, ?, ?, ?, ?)`,
		run.Name, run.Brief, run.Pipeline, run.Status, run.WorkspacePath,
	)
	if err != nil {
		return fmt.Errorf("create run %q: %w", run.Name, err)
	}
	return nil
}

func (s *Store) GetRun(name string) (*RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT name, brief, pipeline, status, workspace_path, created_at, completed_at
		 FROM runs WHERE name = ?`, name,
	)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var completedAt sql.NullTime
	err := row.Scan(
		&run.Name, &run.Brief, &run.Pipeline, &run.Status,
		&run.WorkspacePath, &run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// SetRunStatus updates the catalog state; terminal states also stamp the
// completion time.
func (s *Store) SetRunStatus(name string, status RunStatus) error {
	var completedAt *time.Time
	switch status {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusAborted:
		now := time.Now()
		completedAt = &now
	}
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ? WHERE name = ?`,
		status, completedAt, name,
	)
	return err
}

func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT name, brief, pipeline, status, workspace_path, created_at, completed_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpsertPhase records a phase's latest outcome.
func (s *Store) UpsertPhase(rec *PhaseRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO phases (run_name, phase, status, exit_code, attempts, duration_sec, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(run_name, phase) DO UPDATE SET
		   status = excluded.status,
		   exit_code = excluded.exit_code,
		   attempts = excluded.attempts,
		   duration_sec = excluded.duration_sec,
		   updated_at = CURRENT_TIMESTAMP`,
		rec.RunName, rec.Phase, rec.Status, rec.ExitCode, rec.Attempts, rec.DurationSec,
	)
	return err
}

func (s *Store) PhasesForRun(runName string) ([]*PhaseRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_name, phase, status, exit_code, attempts, duration_sec, updated_at
		 FROM phases WHERE run_name = ? ORDER BY updated_at`, runName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PhaseRecord
	for rows.Next() {
		var rec PhaseRecord
		var exitCode, durationSec sql.NullInt64
		err := rows.Scan(
			&rec.RunName, &rec.Phase, &rec.Status,
			&exitCode, &rec.Attempts, &durationSec, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		if durationSec.Valid {
			rec.DurationSec = &durationSec.Int64
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *Store) DeleteRun(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM phases WHERE run_name = ?`, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Remediation looks up a candidate fix for a failure signature. Implements
// the validation loop's knowledge base contract.
func (s *Store) Remediation(signature string) (string, bool) {
	row := s.db.QueryRow(`SELECT remediation FROM knowledge WHERE signature = ?`, signature)
	var remediation string
	if err := row.Scan(&remediation); err != nil {
		return "", false
	}
	return remediation, true
}

// SetRemediation installs or replaces a knowledge base entry.
func (s *Store) SetRemediation(signature, remediation string) error {
	_, err := s.db.Exec(
		`INSERT INTO knowledge (signature, remediation) VALUES (?, ?)
		 ON CONFLICT(signature) DO UPDATE SET remediation = excluded.remediation`,
		signature, remediation,
	)
	return err
}
