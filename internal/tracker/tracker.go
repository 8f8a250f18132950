// Package tracker mirrors phase status to an external project-tracking tool.
// Mirroring is strictly best-effort: a broken or missing tracker never
// affects pipeline correctness.
package tracker

import (
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Status is the tracker-side state of a phase.
type Status string

const (
	StatusTodo    Status = "todo"
	StatusDoing   Status = "doing"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

// Mirror pushes a phase's status somewhere. Implementations must swallow
// their own failures.
type Mirror interface {
	Set(phase string, status Status)
}

// Noop is the default when no tracker is configured.
type Noop struct{}

func (Noop) Set(string, Status) {}

// execTimeout bounds each tracker invocation so a hung tracker cannot stall
// the pipeline.
const execTimeout = 10 * time.Second

// ExecMirror shells out to a configured tracker CLI as
// `<command> <phase> <status>`, fire-and-forget.
type ExecMirror struct {
	Command string
	Logger  *zap.Logger
}

// New returns an ExecMirror for the command, or Noop when it is empty.
func New(command string, logger *zap.Logger) Mirror {
	if command == "" {
		return Noop{}
	}
	return &ExecMirror{Command: command, Logger: logger}
}

func (m *ExecMirror) Set(phase string, status Status) {
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.Command, phase, string(status))
	if err := cmd.Run(); err != nil && m.Logger != nil {
		m.Logger.Debug("status mirror call failed",
			zap.String("phase", phase),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
