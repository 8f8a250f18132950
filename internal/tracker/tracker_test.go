package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewReturnsNoopForEmptyCommand(t *testing.T) {
	m := New("", nil)
	if _, ok := m.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", m)
	}
	// Must not panic.
	m.Set("draft", StatusDoing)
}

func TestExecMirrorInvokesCommand(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "calls.txt")
	script := filepath.Join(dir, "tracker.sh")
	content := "#!/bin/sh\necho \"$1 $2\" >> " + outFile + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}

	m := New(script, nil)
	m.Set("draft", StatusDone)

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("tracker script was not invoked: %v", err)
	}
	if strings.TrimSpace(string(data)) != "draft done" {
		t.Errorf("tracker received %q, want \"draft done\"", data)
	}
}

func TestExecMirrorSuppressesFailure(t *testing.T) {
	m := New("/nonexistent/tracker", nil)
	// Failure must be silent.
	m.Set("draft", StatusBlocked)
}
