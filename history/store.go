// Package history keeps a local ledger of pipeline invocations in SQLite.
//
// Every invocation that reaches the reporting stage is recorded, including
// ones that never ran because the resource lock was busy, so operators can
// see contention as well as results.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/types"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ErrNotFound is returned when a run is not in the ledger.
var ErrNotFound = errors.New("run not found")

// DefaultLimit bounds Recent when no limit is given.
const DefaultLimit = 20

// DefaultPath returns the default ledger location under the user cache dir.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tollgate", "history.db")
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id        TEXT PRIMARY KEY,
			pipeline      TEXT NOT NULL,
			resource_key  TEXT NOT NULL,
			status        TEXT NOT NULL,
			message       TEXT NOT NULL DEFAULT '',
			started_at    TEXT NOT NULL,
			finished_at   TEXT NOT NULL,
			lock_wait_ms  INTEGER NOT NULL DEFAULT 0,
			items         INTEGER NOT NULL DEFAULT 0,
			succeeded     INTEGER NOT NULL DEFAULT 0,
			failed        INTEGER NOT NULL DEFAULT 0,
			findings      INTEGER NOT NULL DEFAULT 0,
			by_severity   TEXT NOT NULL DEFAULT '{}',
			stale_reclaimed INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_runs_pipeline_started ON runs(pipeline, started_at);

		CREATE TABLE IF NOT EXISTS run_files (
			run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			path        TEXT NOT NULL,
			change_type TEXT NOT NULL DEFAULT '',
			diff_size   INTEGER NOT NULL DEFAULT 0,
			findings    INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			success     INTEGER NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// WriteReport records one invocation. Re-recording a run ID replaces it.
func (s *Store) WriteReport(ctx context.Context, report *types.Report, snap metrics.Snapshot) error {
	if report == nil {
		return errors.New("history: nil report")
	}
	sum := report.Summary

	sev := make(map[string]int, len(sum.BySeverity))
	for k, v := range sum.BySeverity {
		sev[string(k)] = v
	}
	sevJSON, err := json.Marshal(sev)
	if err != nil {
		return fmt.Errorf("history: encode severities: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM run_files WHERE run_id = ?`,
		`DELETE FROM runs WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sum.RunID); err != nil {
			return fmt.Errorf("history: replace run: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, pipeline, resource_key, status, message, started_at, finished_at,
			lock_wait_ms, items, succeeded, failed, findings, by_severity, stale_reclaimed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Pipeline, sum.ResourceKey, string(sum.Status), sum.Message,
		formatTime(sum.StartedAt), formatTime(sum.FinishedAt),
		sum.LockWaitMS, sum.Items, sum.Succeeded, sum.Failed, sum.Findings,
		string(sevJSON), snap.LockStaleReclaimed,
	)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_files (run_id, seq, path, change_type, diff_size, findings, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare files: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, f := range report.Files {
		if _, err := stmt.ExecContext(ctx, sum.RunID, i, f.Path, f.ChangeType, f.DiffSize,
			f.Findings, f.DurationMS, boolToInt(f.Success), f.Error); err != nil {
			return fmt.Errorf("history: insert file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Filter narrows Recent.
type Filter struct {
	// Pipeline limits results to one pipeline. Empty means all.
	Pipeline string
	// Status limits results to one outcome. Empty means all.
	Status types.OutcomeStatus
	// Limit caps the number of rows (default DefaultLimit).
	Limit int
}

// Recent returns the newest runs first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]types.RunSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT run_id, pipeline, resource_key, status, message, started_at, finished_at,
		lock_wait_ms, items, succeeded, failed, findings, by_severity FROM runs WHERE 1=1`
	var args []any
	if f.Pipeline != "" {
		query += ` AND pipeline = ?`
		args = append(args, f.Pipeline)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return out, nil
}

// Run returns one invocation with its per-file details.
func (s *Store) Run(ctx context.Context, runID string) (*types.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, pipeline, resource_key, status, message, started_at,
		finished_at, lock_wait_ms, items, succeeded, failed, findings, by_severity FROM runs WHERE run_id = ?`, runID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, change_type, diff_size, findings, duration_ms, success, error
		FROM run_files WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rep := &types.Report{Summary: sum, Files: []types.FileDetail{}}
	for rows.Next() {
		var d types.FileDetail
		var success int
		if err := rows.Scan(&d.Path, &d.ChangeType, &d.DiffSize, &d.Findings, &d.DurationMS, &success, &d.Error); err != nil {
			return nil, fmt.Errorf("history: scan file: %w", err)
		}
		d.Success = success != 0
		if !d.Success {
			rep.Summary.FailedFiles = append(rep.Summary.FailedFiles, d.Path)
		}
		rep.Files = append(rep.Files, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate files: %w", err)
	}
	return rep, nil
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// database/sql may hand out connections that never saw the foreign_keys pragma.
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_files WHERE run_id IN
		(SELECT run_id FROM runs WHERE started_at < ?)`, ts); err != nil {
		return 0, fmt.Errorf("history: prune files: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(sc scanner) (types.RunSummary, error) {
	var sum types.RunSummary
	var status, started, finished, sevJSON string
	err := sc.Scan(&sum.RunID, &sum.Pipeline, &sum.ResourceKey, &status, &sum.Message, &started, &finished,
		&sum.LockWaitMS, &sum.Items, &sum.Succeeded, &sum.Failed, &sum.Findings, &sevJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return sum, err
	}
	if err != nil {
		return sum, fmt.Errorf("history: scan run: %w", err)
	}
	sum.Status = types.OutcomeStatus(status)
	sum.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	sum.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)

	var sev map[string]int
	if err := json.Unmarshal([]byte(sevJSON), &sev); err == nil && len(sev) > 0 {
		sum.BySeverity = make(map[types.Severity]int, len(sev))
		for k, v := range sev {
			sum.BySeverity[types.Severity(k)] = v
		}
	}
	return sum, nil
}

// formatTime uses a fixed-width UTC layout so TEXT ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
