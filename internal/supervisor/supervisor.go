// Package supervisor launches one external command at a time, enforces its
// timeout with escalating termination, and reports a classified exit status.
//
// Launch and handle capture are a single step: Start returns a live Handle
// synchronously, and that Handle is the only way to await the process. This
// closes the window in which a fast-exiting process's identity could be lost.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultGrace is how long a process gets between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

// Command describes one supervised invocation. OutputPath receives combined
// stdout and stderr and must be exclusive to this invocation; concurrent
// writers to a shared stream corrupt each other's output.
type Command struct {
	Path       string
	Args       []string
	Dir        string
	Env        []string
	OutputPath string
	Timeout    time.Duration
	Grace      time.Duration
}

// Outcome classifies how a supervised process ended.
type Outcome int

const (
	// OutcomeSuccess: normal exit, code 0.
	OutcomeSuccess Outcome = iota
	// OutcomeFailed: normal exit, nonzero code.
	OutcomeFailed
	// OutcomeTimedOut: exceeded its timeout and stopped on SIGTERM.
	OutcomeTimedOut
	// OutcomeForceKilled: ignored SIGTERM and was SIGKILLed.
	OutcomeForceKilled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeForceKilled:
		return "force-killed"
	default:
		return "unknown"
	}
}

// Result is the classified exit status of one invocation.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Duration time.Duration
	PID      int
}

// TimedOut reports whether the process was terminated by the supervisor
// rather than exiting on its own. Callers use this to offer "increase the
// timeout and retry" instead of "fix a bug".
func (r Result) TimedOut() bool {
	return r.Outcome == OutcomeTimedOut || r.Outcome == OutcomeForceKilled
}

// Handle is a live supervised process.
type Handle struct {
	cmd     *exec.Cmd
	out     *os.File
	pid     int
	started time.Time
	timeout time.Duration
	grace   time.Duration
}

// Start launches the command and captures its process handle before
// returning. The child runs in its own process group so termination reaches
// any grandchildren it spawns.
func Start(cmd Command) (*Handle, error) {
	out, err := os.OpenFile(cmd.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = out
	c.Stderr = out
	c.Stdin = nil
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	grace := cmd.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	started := time.Now()
	if err := c.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	// Capture the pid in the same logical step as the launch.
	pid := c.Process.Pid

	return &Handle{
		cmd:     c,
		out:     out,
		pid:     pid,
		started: started,
		timeout: cmd.Timeout,
		grace:   grace,
	}, nil
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.pid
}

// Wait blocks until the process exits, enforcing the timeout with SIGTERM,
// then SIGKILL after the grace interval. Context cancellation triggers the
// same escalation. The exit status is read the moment Wait observes the exit,
// before any other work.
func (h *Handle) Wait(ctx context.Context) Result {
	defer h.out.Close()

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if h.timeout > 0 {
		timer := time.NewTimer(h.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		return h.finish(err, false)
	case <-timeoutC:
	case <-ctx.Done():
	}

	// Graceful first. Signal the whole group.
	h.signal(syscall.SIGTERM)
	graceTimer := time.NewTimer(h.grace)
	defer graceTimer.Stop()

	select {
	case err := <-done:
		res := h.finish(err, true)
		res.Outcome = OutcomeTimedOut
		return res
	case <-graceTimer.C:
	}

	h.signal(syscall.SIGKILL)
	err := <-done
	res := h.finish(err, true)
	res.Outcome = OutcomeForceKilled
	return res
}

// finish extracts the exit status immediately after Wait returns. Nothing
// else may run between the two: the status lives on the exec.Cmd and is the
// only record of how the process ended.
func (h *Handle) finish(waitErr error, killed bool) Result {
	exitCode := 0
	if h.cmd.ProcessState != nil {
		exitCode = h.cmd.ProcessState.ExitCode()
	} else if waitErr != nil {
		exitCode = -1
	}

	res := Result{
		ExitCode: exitCode,
		Duration: time.Since(h.started),
		PID:      h.pid,
	}
	switch {
	case killed:
		// Caller overrides with the precise termination class.
		res.Outcome = OutcomeTimedOut
	case exitCode == 0 && waitErr == nil:
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomeFailed
	}
	return res
}

func (h *Handle) signal(sig syscall.Signal) {
	// Negative pid addresses the process group created at launch.
	if err := syscall.Kill(-h.pid, sig); err != nil {
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(sig)
		}
	}
}

// Run is the blocking convenience wrapper: Start then Wait.
func Run(ctx context.Context, cmd Command) (Result, error) {
	h, err := Start(cmd)
	if err != nil {
		return Result{}, err
	}
	return h.Wait(ctx), nil
}
