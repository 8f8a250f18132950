// Package eventlog stores phase lifecycle events for one run as an
// append-only JSONL file. The log is the authoritative answer to "has this
// phase completed successfully"; dependency decisions read it, never the
// run catalog.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state recorded by an event.
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one immutable event. Later records shadow earlier ones for the
// same phase, which lets retries be logged without rewriting history.
type Record struct {
	EventID     string `json:"event_id"`
	Phase       string `json:"phase"`
	Status      Status `json:"status"`
	TS          string `json:"ts"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	DurationSec *int64 `json:"duration_sec,omitempty"`
	PID         *int   `json:"pid,omitempty"`
}

// Completed reports whether the record is a terminal event.
func (r Record) Completed() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// Succeeded reports whether the record is a terminal event with exit code 0.
func (r Record) Succeeded() bool {
	return r.Status == StatusSuccess && r.ExitCode != nil && *r.ExitCode == 0
}

// Time parses the record timestamp. Zero time on malformed input.
func (r Record) Time() time.Time {
	t, _ := time.Parse(time.RFC3339, r.TS)
	return t
}

// Started builds a started event for a phase.
func Started(phase string, pid int) Record {
	return Record{Phase: phase, Status: StatusStarted, PID: &pid}
}

// Completed builds a terminal event for a phase. Status derives from the exit
// code: zero means success, anything else failed.
func Completed(phase string, exitCode int, duration time.Duration) Record {
	status := StatusFailed
	if exitCode == 0 {
		status = StatusSuccess
	}
	secs := int64(duration.Seconds())
	if secs < 0 {
		secs = 0
	}
	return Record{Phase: phase, Status: status, ExitCode: &exitCode, DurationSec: &secs}
}

// Coverage summarizes terminal state across an expected phase set.
type Coverage struct {
	Completed []string
	Failed    []string
	Missing   []string
}

// Log is the contract the dependency resolver and orchestrator consume. The
// backing store can change without touching either.
type Log interface {
	Append(Record) error
	LatestCompleted(phase string) (Record, bool, error)
	Coverage(expected []string) (Coverage, error)
}

// FileLog implements Log over a single JSONL file owned by one run. Appends
// are one O_APPEND write of a complete line, so concurrent phase goroutines
// need no coordination beyond the mutex guarding the file handle.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// FileName is the event log file name inside a run's logs directory.
const FileName = "events.jsonl"

// Open creates (if needed) and returns the event log for a run's logs
// directory.
func Open(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &FileLog{path: filepath.Join(dir, FileName)}, nil
}

// Path returns the file backing this log.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes one record as a single line. Missing event ID and timestamp
// are filled in here so callers only describe what happened. A failed append
// is returned, never swallowed: resolver correctness depends on log
// completeness.
func (l *FileLog) Append(rec Record) error {
	if strings.TrimSpace(rec.Phase) == "" {
		return fmt.Errorf("append event: phase is required")
	}
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if rec.TS == "" {
		rec.TS = time.Now().UTC().Format(time.RFC3339)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("fsync event log: %w", err)
	}
	return nil
}

// Records loads every event in append order. A truncated trailing line from a
// crash mid-write is ignored; a malformed line elsewhere is an error.
func (l *FileLog) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}

	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// A crash mid-append leaves at most one truncated trailing
			// record; readers ignore it. Anything else is corruption.
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("decode event log line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestCompleted returns the last terminal event for a phase, if any.
func (l *FileLog) LatestCompleted(phase string) (Record, bool, error) {
	records, err := l.Records()
	if err != nil {
		return Record{}, false, err
	}
	var (
		latest Record
		found  bool
	)
	for _, rec := range records {
		if rec.Phase == phase && rec.Completed() {
			latest = rec
			found = true
		}
	}
	return latest, found, nil
}

// Coverage reports, for an expected phase set, which phases have a successful
// terminal event, which have a failed one, and which have none at all.
func (l *FileLog) Coverage(expected []string) (Coverage, error) {
	records, err := l.Records()
	if err != nil {
		return Coverage{}, err
	}
	latest := make(map[string]Record, len(expected))
	for _, rec := range records {
		if rec.Completed() {
			latest[rec.Phase] = rec
		}
	}
	var cov Coverage
	for _, phase := range expected {
		rec, ok := latest[phase]
		switch {
		case !ok:
			cov.Missing = append(cov.Missing, phase)
		case rec.Succeeded():
			cov.Completed = append(cov.Completed, phase)
		default:
			cov.Failed = append(cov.Failed, phase)
		}
	}
	return cov, nil
}
