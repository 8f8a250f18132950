// Package executor runs a wave of mutually independent phases concurrently,
// one supervised subprocess per phase, and collects per-phase results without
// losing any exit status to aggregation.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/phase"
	"github.com/loomworks/loom/internal/supervisor"
)

// CommandBuilder produces the supervised command for one phase. The returned
// command's OutputPath must be exclusive to that phase.
type CommandBuilder func(p phase.Phase) (supervisor.Command, error)

// GroupResult maps phase name to its execution result.
type GroupResult map[string]supervisor.Result

// Succeeded reports whether every phase in the group exited successfully.
func (g GroupResult) Succeeded() bool {
	for _, res := range g {
		if res.Outcome != supervisor.OutcomeSuccess {
			return false
		}
	}
	return len(g) > 0
}

// Failed returns the names of phases that did not succeed.
func (g GroupResult) Failed() []string {
	var failed []string
	for name, res := range g {
		if res.Outcome != supervisor.OutcomeSuccess {
			failed = append(failed, name)
		}
	}
	return failed
}

// RunGroup launches every phase, appends its started event immediately after
// that launch, then waits for each phase independently, appending its
// completed event the moment its own status is captured. Partial progress
// therefore survives a crash of this process. The full result map comes back
// even when some phases fail, so the caller can report exactly which ones.
//
// A log append failure is returned after all launched processes have been
// awaited; it is never swallowed, because dependency resolution relies on log
// completeness.
func RunGroup(ctx context.Context, phases []phase.Phase, build CommandBuilder, log eventlog.Log) (GroupResult, error) {
	type launched struct {
		phase  phase.Phase
		handle *supervisor.Handle
	}

	var (
		handles  []launched
		firstErr error
	)
	for _, p := range phases {
		cmd, err := build(p)
		if err != nil {
			firstErr = fmt.Errorf("build command for phase %q: %w", p.Name, err)
			break
		}
		h, err := supervisor.Start(cmd)
		if err != nil {
			firstErr = fmt.Errorf("launch phase %q: %w", p.Name, err)
			break
		}
		handles = append(handles, launched{phase: p, handle: h})
		if err := log.Append(eventlog.Started(p.Name, h.PID())); err != nil {
			firstErr = fmt.Errorf("record start of phase %q: %w", p.Name, err)
			break
		}
	}

	results := make(GroupResult, len(handles))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, l := range handles {
		wg.Add(1)
		go func(l launched) {
			defer wg.Done()
			res := l.handle.Wait(ctx)
			appendErr := log.Append(eventlog.Completed(l.phase.Name, res.ExitCode, res.Duration))

			mu.Lock()
			defer mu.Unlock()
			results[l.phase.Name] = res
			if appendErr != nil && firstErr == nil {
				firstErr = fmt.Errorf("record completion of phase %q: %w", l.phase.Name, appendErr)
			}
		}(l)
	}
	wg.Wait()

	return results, firstErr
}
