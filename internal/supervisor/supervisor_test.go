package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func shCommand(t *testing.T, script string, timeout time.Duration) Command {
	t.Helper()
	return Command{
		Path:       "/bin/sh",
		Args:       []string{"-c", script},
		Dir:        t.TempDir(),
		OutputPath: filepath.Join(t.TempDir(), "out.log"),
		Timeout:    timeout,
		Grace:      time.Second,
	}
}

func TestRunSuccess(t *testing.T) {
	cmd := shCommand(t, "echo hello", 10*time.Second)
	res, err := Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSuccess || res.ExitCode != 0 {
		t.Errorf("got outcome=%s exit=%d, want success/0", res.Outcome, res.ExitCode)
	}
	if res.Duration < 0 {
		t.Errorf("negative duration %v", res.Duration)
	}
	if res.PID <= 0 {
		t.Errorf("pid not captured: %d", res.PID)
	}

	out, err := os.ReadFile(cmd.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "hello") {
		t.Errorf("output file missing command output: %q", out)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	res, err := Run(context.Background(), shCommand(t, "exit 3", 10*time.Second))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.ExitCode != 3 {
		t.Errorf("got outcome=%s exit=%d, want failed/3", res.Outcome, res.ExitCode)
	}
	if res.TimedOut() {
		t.Error("plain failure must not report timed out")
	}
}

func TestRunTimeout(t *testing.T) {
	res, err := Run(context.Background(), shCommand(t, "sleep 30", 200*time.Millisecond))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut() {
		t.Fatalf("expected timeout, got outcome=%s exit=%d", res.Outcome, res.ExitCode)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("sleep honors SIGTERM, want graceful timeout, got %s", res.Outcome)
	}
	if res.Duration >= 30*time.Second {
		t.Errorf("timeout did not interrupt the process, duration %v", res.Duration)
	}
}

func TestRunForceKill(t *testing.T) {
	// Ignore SIGTERM so only SIGKILL can end the process.
	res, err := Run(context.Background(), shCommand(t, "trap '' TERM; sleep 30", 200*time.Millisecond))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeForceKilled {
		t.Errorf("got outcome=%s, want force-killed", res.Outcome)
	}
	if !res.TimedOut() {
		t.Error("force kill must count as timed out")
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, err := Start(shCommand(t, "sleep 30", time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res := h.Wait(ctx)
	if !res.TimedOut() {
		t.Errorf("cancellation should terminate the process, got %s", res.Outcome)
	}
	if res.Duration >= 30*time.Second {
		t.Errorf("cancellation did not interrupt, duration %v", res.Duration)
	}
}

func TestStartCapturesHandleForFastExit(t *testing.T) {
	h, err := Start(shCommand(t, "true", 10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if h.PID() <= 0 {
		t.Fatal("pid must be available immediately after Start")
	}
	// Even if the process exits before Wait is called, the exit status must
	// not be lost.
	time.Sleep(100 * time.Millisecond)
	res := h.Wait(context.Background())
	if res.Outcome != OutcomeSuccess {
		t.Errorf("fast-exiting process lost its status: %s", res.Outcome)
	}
}

func TestStartMissingBinary(t *testing.T) {
	cmd := shCommand(t, "true", time.Second)
	cmd.Path = "/nonexistent/binary"
	if _, err := Start(cmd); err == nil {
		t.Error("expected launch error for missing binary")
	}
}
