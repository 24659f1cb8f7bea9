package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hexforge-labs/armloop/internal/paths"
	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dbpath := filepath.Join(t.TempDir(), "armloop.db")
	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000`)
	s := New(db)
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func run(task, result string, attempts int) *Run {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return &Run{
		Task:       task,
		Toolchain:  "gcc",
		Result:     result,
		Attempts:   attempts,
		LedgerPath: "/tmp/ledgers/" + task + ".jsonl",
		StartedAt:  now,
	}
}

func TestInitIsIdempotent(t *testing.T) {
	s := setupStore(t)
	if err := s.Init(); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if _, err := s.InsertRun(run("fib10", "success", 2)); err != nil {
		t.Fatalf("insert after re-init: %v", err)
	}
}

func TestInsertAndQueryRuns(t *testing.T) {
	s := setupStore(t)

	id1, err := s.InsertRun(run("fib10", "mismatch", 5))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id2, err := s.InsertRun(run("fib10", "success", 3))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not monotonic: %d then %d", id1, id2)
	}

	got, err := s.RunsForTask("fib10")
	if err != nil {
		t.Fatalf("runs for task: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2", len(got))
	}
	if got[0].Result != "success" || got[1].Result != "mismatch" {
		t.Fatalf("not newest first: %+v", got)
	}
	if got[0].FinishedAt == "" {
		t.Fatalf("finished_at not stamped")
	}

	last, err := s.LastRun("fib10")
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last.ID != id2 || last.Attempts != 3 {
		t.Fatalf("last run = %+v", last)
	}
}

func TestInsertRejectsBadTaskName(t *testing.T) {
	s := setupStore(t)
	if _, err := s.InsertRun(run("../evil", "success", 1)); !errors.Is(err, paths.ErrInvalidTaskName) {
		t.Fatalf("err = %v, want ErrInvalidTaskName", err)
	}
}

func TestSummaryAggregatesPerTask(t *testing.T) {
	s := setupStore(t)
	for _, r := range []*Run{
		run("fib10", "success", 2),
		run("fib10", "success", 4),
		run("fib10", "build_fail", 5),
		run("sum100", "mismatch", 5),
	} {
		if _, err := s.InsertRun(r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	tallies, err := s.Summary()
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(tallies) != 2 {
		t.Fatalf("got %d tallies, want 2", len(tallies))
	}
	fib := tallies[0]
	if fib.Task != "fib10" || fib.Runs != 3 || fib.Successes != 2 {
		t.Fatalf("fib tally = %+v", fib)
	}
	if fib.MeanAttempts != 3.0 {
		t.Fatalf("mean attempts = %v, want 3.0", fib.MeanAttempts)
	}
	sum := tallies[1]
	if sum.Task != "sum100" || sum.Successes != 0 || sum.MeanAttempts != 0 {
		t.Fatalf("sum tally = %+v", sum)
	}
}

func TestLastRunMissingTask(t *testing.T) {
	s := setupStore(t)
	if _, err := s.LastRun("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListRunsLimit(t *testing.T) {
	s := setupStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.InsertRun(run("fib10", "success", i+1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got, err := s.ListRuns(3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d runs, want 3", len(got))
	}
	if got[0].Attempts != 5 {
		t.Fatalf("newest run attempts = %d, want 5", got[0].Attempts)
	}
}
