package resolver

import (
	"testing"
	"time"

	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/phase"
)

func testLog(t *testing.T) *eventlog.FileLog {
	t.Helper()
	log, err := eventlog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return log
}

func TestNoDepsAlwaysReady(t *testing.T) {
	log := testLog(t)
	ready, err := Ready(log, phase.Phase{Name: "research"})
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Error("phase without dependencies must be ready")
	}
}

func TestBlockingNamesUnmetDeps(t *testing.T) {
	log := testLog(t)
	p := phase.Phase{Name: "outline", Deps: []string{"research", "audience"}}

	blocking, err := Blocking(log, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocking) != 2 || blocking[0] != "research" || blocking[1] != "audience" {
		t.Fatalf("blocking = %v, want [research audience]", blocking)
	}

	if err := log.Append(eventlog.Completed("research", 0, time.Second)); err != nil {
		t.Fatal(err)
	}
	blocking, err = Blocking(log, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocking) != 1 || blocking[0] != "audience" {
		t.Fatalf("blocking = %v, want [audience]", blocking)
	}
}

func TestFailedDependencyBlocks(t *testing.T) {
	log := testLog(t)
	if err := log.Append(eventlog.Completed("draft", 2, time.Second)); err != nil {
		t.Fatal(err)
	}
	ready, err := Ready(log, phase.Phase{Name: "review", Deps: []string{"draft"}})
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Error("a failed dependency must block its dependents")
	}
}

func TestRetrySuccessUnblocks(t *testing.T) {
	log := testLog(t)
	if err := log.Append(eventlog.Completed("draft", 1, time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(eventlog.Completed("draft", 0, time.Second)); err != nil {
		t.Fatal(err)
	}
	ready, err := Ready(log, phase.Phase{Name: "review", Deps: []string{"draft"}})
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Error("latest successful completion must unblock dependents")
	}
}
