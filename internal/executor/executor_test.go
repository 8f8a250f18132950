package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/phase"
	"github.com/loomworks/loom/internal/supervisor"
)

func shBuilder(t *testing.T, scripts map[string]string) CommandBuilder {
	t.Helper()
	dir := t.TempDir()
	return func(p phase.Phase) (supervisor.Command, error) {
		script, ok := scripts[p.Name]
		if !ok {
			return supervisor.Command{}, fmt.Errorf("no script for %s", p.Name)
		}
		return supervisor.Command{
			Path:       "/bin/sh",
			Args:       []string{"-c", script},
			Dir:        dir,
			OutputPath: filepath.Join(dir, p.Name+".log"),
			Timeout:    10 * time.Second,
			Grace:      time.Second,
		}, nil
	}
}

func TestRunGroupAllSucceed(t *testing.T) {
	log, err := eventlog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	phases := []phase.Phase{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	build := shBuilder(t, map[string]string{"a": "true", "b": "true", "c": "true"})

	results, err := RunGroup(context.Background(), phases, build, log)
	if err != nil {
		t.Fatalf("RunGroup: %v", err)
	}
	if !results.Succeeded() {
		t.Errorf("expected all phases to succeed, failed: %v", results.Failed())
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	cov, err := log.Coverage([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cov.Completed) != 3 {
		t.Errorf("coverage completed = %v, want all three", cov.Completed)
	}
}

func TestRunGroupPartialFailure(t *testing.T) {
	log, err := eventlog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	phases := []phase.Phase{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	build := shBuilder(t, map[string]string{"a": "true", "b": "exit 7", "c": "true"})

	results, err := RunGroup(context.Background(), phases, build, log)
	if err != nil {
		t.Fatalf("RunGroup: %v", err)
	}
	if results.Succeeded() {
		t.Fatal("group with a failing member must not report success")
	}
	failed := results.Failed()
	if len(failed) != 1 || failed[0] != "b" {
		t.Errorf("failed = %v, want [b]", failed)
	}
	if results["b"].ExitCode != 7 {
		t.Errorf("exit code for b = %d, want 7", results["b"].ExitCode)
	}
	for _, name := range []string{"a", "c"} {
		if results[name].Outcome != supervisor.OutcomeSuccess {
			t.Errorf("sibling %s should succeed independently, got %s", name, results[name].Outcome)
		}
	}

	records, err := log.Records()
	if err != nil {
		t.Fatal(err)
	}
	completed := 0
	for _, rec := range records {
		if rec.Completed() {
			completed++
		}
	}
	if completed != 3 {
		t.Errorf("event log has %d completed events, want exactly 3", completed)
	}
}

func TestRunGroupStartedPrecedesCompleted(t *testing.T) {
	log, err := eventlog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	phases := []phase.Phase{{Name: "a"}, {Name: "b"}}
	build := shBuilder(t, map[string]string{"a": "true", "b": "true"})

	if _, err := RunGroup(context.Background(), phases, build, log); err != nil {
		t.Fatal(err)
	}

	records, err := log.Records()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]eventlog.Status{}
	for _, rec := range records {
		if rec.Status == eventlog.StatusStarted {
			if _, ok := seen[rec.Phase]; ok {
				t.Errorf("duplicate started for %s", rec.Phase)
			}
			seen[rec.Phase] = rec.Status
			continue
		}
		if _, ok := seen[rec.Phase]; !ok {
			t.Errorf("completed for %s before its started event", rec.Phase)
		}
	}
}

func TestRunGroupTimeoutDoesNotAffectSiblings(t *testing.T) {
	log, err := eventlog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	build := func(p phase.Phase) (supervisor.Command, error) {
		cmd := supervisor.Command{
			Path:       "/bin/sh",
			Dir:        dir,
			OutputPath: filepath.Join(dir, p.Name+".log"),
			Grace:      time.Second,
		}
		if p.Name == "slow" {
			cmd.Args = []string{"-c", "sleep 30"}
			cmd.Timeout = 200 * time.Millisecond
		} else {
			cmd.Args = []string{"-c", "sleep 1; echo done"}
			cmd.Timeout = 10 * time.Second
		}
		return cmd, nil
	}

	results, err := RunGroup(context.Background(), []phase.Phase{{Name: "slow"}, {Name: "steady"}}, build, log)
	if err != nil {
		t.Fatal(err)
	}
	if !results["slow"].TimedOut() {
		t.Errorf("slow should time out, got %s", results["slow"].Outcome)
	}
	if results["steady"].Outcome != supervisor.OutcomeSuccess {
		t.Errorf("sibling must run to completion, got %s", results["steady"].Outcome)
	}
}
