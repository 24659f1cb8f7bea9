// Package ledger persists the attempt history of a run as an append-only
// JSONL file, one record per line. Records are never rewritten; a crash
// mid-write leaves every previously written line intact, and every run
// opens a fresh file.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hexforge-labs/armloop/internal/api"
	"github.com/hexforge-labs/armloop/internal/paths"
)

var ErrCorrupt = errors.New("corrupt ledger line")

// Ledger appends attempt records for one run. It owns the file handle for
// the run's lifetime.
type Ledger struct {
	path string
	f    *os.File
	next int
}

// Open creates a new ledger file under dir, named after the task plus a
// timestamp so reruns of the same task never touch an earlier history.
func Open(dir, task string) (*Ledger, error) {
	if err := paths.ValidateTaskName(task); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	stamp := strings.ReplaceAll(time.Now().Format("20060102_150405.000000"), ".", "_")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", task, stamp))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Ledger{path: path, f: f, next: 1}, nil
}

func (l *Ledger) Path() string { return l.path }

// NextAttempt is the 1-based number the next appended record should carry.
func (l *Ledger) NextAttempt() int { return l.next }

// Append writes one record as a single line and syncs it to disk before
// returning. The record's attempt number must continue the sequence.
func (l *Ledger) Append(rec api.AttemptRecord) error {
	if rec.Attempt != l.next {
		return fmt.Errorf("attempt %d out of sequence, expected %d", rec.Attempt, l.next)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := l.f.Write(b); err != nil {
		return err
	}
	if err := l.f.Sync(); err != nil {
		return err
	}
	l.next++
	return nil
}

// Close releases the file handle. The ledger content is already durable;
// Close only matters for descriptor hygiene.
func (l *Ledger) Close() error {
	return l.f.Close()
}

// ReadAll loads every complete record from a ledger file. A missing file is
// an empty history. A truncated final line (crash mid-append) is dropped;
// any other malformed line is corruption.
func ReadAll(path string) ([]api.AttemptRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var recs []api.AttemptRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	badLine := 0
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if badLine != 0 {
			// a malformed line followed by more content is corruption,
			// not a crash-truncated tail
			return nil, fmt.Errorf("%w: line %d", ErrCorrupt, badLine)
		}
		var rec api.AttemptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			badLine = lineNo
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Last returns the most recent record in a ledger file, or nil for an empty
// history.
func Last(path string) (*api.AttemptRecord, error) {
	recs, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[len(recs)-1], nil
}
