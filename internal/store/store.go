package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hexforge-labs/armloop/internal/paths"
)

// Store indexes completed task runs in sqlite so batch scoring can query
// results without re-reading every ledger file.
type Store struct {
	db *sql.DB
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init runs migrations using PRAGMA user_version.
func (s *Store) Init() error {
	var ver int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&ver); err != nil {
		return err
	}
	if ver >= 1 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// v1 schema
	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task TEXT NOT NULL,
  toolchain TEXT NOT NULL,
  result TEXT NOT NULL,
  attempts INTEGER NOT NULL,
  ledger_path TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS runs_task_idx ON runs(task)`); err != nil {
		return err
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1`); err != nil {
		return err
	}

	return tx.Commit()
}

// Run is one finished task run.
type Run struct {
	ID         int64
	Task       string
	Toolchain  string
	Result     string
	Attempts   int
	LedgerPath string
	StartedAt  string
	FinishedAt string
}

// InsertRun records a finished run. Retries transiently busy sqlite errors
// with a short backoff so concurrent batch workers do not drop rows.
func (s *Store) InsertRun(r *Run) (int64, error) {
	if err := paths.ValidateTaskName(r.Task); err != nil {
		return 0, err
	}
	if r.FinishedAt == "" {
		r.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		res, err := s.db.Exec(
			`INSERT INTO runs (task, toolchain, result, attempts, ledger_path, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Task, r.Toolchain, r.Result, r.Attempts, r.LedgerPath, r.StartedAt, r.FinishedAt,
		)
		if err == nil {
			return res.LastInsertId()
		}
		lastErr = err
		if !isSqliteBusy(err) {
			return 0, err
		}
		time.Sleep(time.Duration(10*(1<<i)) * time.Millisecond)
	}
	return 0, lastErr
}

// RunsForTask returns runs for one task, newest first.
func (s *Store) RunsForTask(task string) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, task, toolchain, result, attempts, ledger_path, started_at, finished_at FROM runs WHERE task = ? ORDER BY id DESC`,
		task,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListRuns returns the most recent runs across all tasks, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, task, toolchain, result, attempts, ledger_path, started_at, finished_at FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// TaskTally aggregates outcomes per task for the batch summary.
type TaskTally struct {
	Task      string
	Runs      int
	Successes int
	// MeanAttempts averages attempts over successful runs only; zero when
	// no run succeeded.
	MeanAttempts float64
}

// Summary returns one tally per task, ordered by task name.
func (s *Store) Summary() ([]TaskTally, error) {
	rows, err := s.db.Query(`
SELECT task,
       COUNT(*),
       SUM(CASE WHEN result = 'success' THEN 1 ELSE 0 END),
       COALESCE(AVG(CASE WHEN result = 'success' THEN CAST(attempts AS REAL) END), 0)
FROM runs GROUP BY task ORDER BY task`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskTally
	for rows.Next() {
		var t TaskTally
		if err := rows.Scan(&t.Task, &t.Runs, &t.Successes, &t.MeanAttempts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run for a task, or ErrNotFound.
func (s *Store) LastRun(task string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, task, toolchain, result, attempts, ledger_path, started_at, finished_at FROM runs WHERE task = ? ORDER BY id DESC LIMIT 1`,
		task,
	)
	var r Run
	if err := row.Scan(&r.ID, &r.Task, &r.Toolchain, &r.Result, &r.Attempts, &r.LedgerPath, &r.StartedAt, &r.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Task, &r.Toolchain, &r.Result, &r.Attempts, &r.LedgerPath, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isSqliteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
