// Package orchestrator drives one run end to end: waves of phases resolved
// against the event log, supervised agent subprocesses, the failure-policy
// retry loop, and the final validation gate.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/phase"
	"github.com/loomworks/loom/internal/policy"
	"github.com/loomworks/loom/internal/resolver"
	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/supervisor"
	"github.com/loomworks/loom/internal/tracker"
	"github.com/loomworks/loom/internal/validation"
	"github.com/loomworks/loom/internal/workspace"
)

// CommandSource builds the supervised command for one attempt of a phase.
type CommandSource interface {
	Build(p phase.Phase, attempt int, timeout, grace time.Duration, final bool) (supervisor.Command, error)
}

// Catalog is the slice of the run catalog the orchestrator writes to. The
// catalog mirrors state for display; it is never read back for decisions.
type Catalog interface {
	SetRunStatus(name string, status storage.RunStatus) error
	UpsertPhase(rec *storage.PhaseRecord) error
}

// Orchestrator executes one run. Fields are set once and not mutated during
// Run.
type Orchestrator struct {
	RunName  string
	Pipeline string
	Registry *phase.Registry

	Log       eventlog.Log
	Workspace *workspace.Workspace
	Commands  CommandSource
	Policy    policy.Provider
	Tracker   tracker.Mirror
	Catalog   Catalog
	Logger    *zap.Logger

	// MaxAttempts bounds the per-phase retry loop, first attempt included.
	MaxAttempts int
	// BackoffFactor scales a phase's effective timeout on a backoff retry.
	BackoffFactor float64
	Grace         time.Duration

	// Validation, when set, gates the finished artifact after the last wave.
	Validation *validation.Loop
}

// run-scoped mutable state, rebuilt on every Run call.
type runState struct {
	attempts map[string]int
	timeouts map[string]time.Duration
	phases   map[string]*PhaseReport
	aborted  bool
}

// Run executes every wave and returns the completion report. An error is
// returned only for infrastructure faults (log writes, workspace IO); a run
// that ends failed or aborted still produces a report and a nil error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 1
	}
	if o.Tracker == nil {
		o.Tracker = tracker.Noop{}
	}

	waves, err := o.Registry.Waves()
	if err != nil {
		return nil, err
	}

	state := &runState{
		attempts: make(map[string]int),
		timeouts: make(map[string]time.Duration),
		phases:   make(map[string]*PhaseReport),
	}
	for _, p := range o.Registry.Phases() {
		state.timeouts[p.Name] = p.Timeout
	}

	report := &Report{
		Run:       o.RunName,
		Pipeline:  o.Pipeline,
		StartedAt: time.Now().UTC(),
	}
	o.setRunStatus(storage.RunStatusRunning, logger)

	for i, wave := range waves {
		if state.aborted {
			break
		}
		final := i == len(waves)-1
		if err := o.runWave(ctx, wave, final, state, logger); err != nil {
			return nil, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	for _, p := range o.Registry.Phases() {
		if pr := state.phases[p.Name]; pr != nil {
			report.Phases = append(report.Phases, *pr)
		}
	}
	report.Outcome = o.finish(ctx, waves, state, report, logger)

	o.setRunStatus(report.Outcome, logger)
	if err := report.Write(o.Workspace.ReportPath()); err != nil {
		return nil, err
	}
	return report, nil
}

// runWave resolves each member against the event log, launches the ready ones
// as one concurrent group, and walks failures through the policy loop.
func (o *Orchestrator) runWave(ctx context.Context, wave []phase.Phase, final bool, state *runState, logger *zap.Logger) error {
	var ready []phase.Phase
	for _, p := range wave {
		// Resume support: a phase with a successful terminal event is done.
		if rec, ok, err := o.Log.LatestCompleted(p.Name); err != nil {
			return err
		} else if ok && rec.Succeeded() {
			logger.Info("phase already complete", zap.String("phase", p.Name))
			state.phases[p.Name] = &PhaseReport{Phase: p.Name, Label: p.Label, State: PhaseSucceeded, ExitCode: rec.ExitCode}
			continue
		}

		blocking, err := resolver.Blocking(o.Log, p)
		if err != nil {
			return err
		}
		if len(blocking) > 0 {
			logger.Warn("phase abandoned",
				zap.String("phase", p.Name),
				zap.Strings("unmet", blocking))
			state.phases[p.Name] = &PhaseReport{
				Phase: p.Name, Label: p.Label,
				State: PhaseAbandoned, Unmet: blocking,
			}
			o.Tracker.Set(p.Name, tracker.StatusBlocked)
			o.upsertPhase(p.Name, string(PhaseAbandoned), nil, 0, nil, logger)
			continue
		}
		ready = append(ready, p)
	}
	if len(ready) == 0 {
		return nil
	}

	if err := o.writeMetadata(ready); err != nil {
		return err
	}
	for _, p := range ready {
		state.attempts[p.Name]++
		o.Tracker.Set(p.Name, tracker.StatusDoing)
	}
	logger.Info("wave started", zap.Strings("phases", names(ready)))

	results, err := executor.RunGroup(ctx, ready, o.builder(state, final), o.Log)
	if err != nil {
		return err
	}

	for _, p := range ready {
		res := results[p.Name]
		if res.Outcome == supervisor.OutcomeSuccess {
			o.settle(p, state, PhaseSucceeded, res, logger)
			continue
		}
		if err := o.retryLoop(ctx, p, res, final, state, logger); err != nil {
			return err
		}
		if state.aborted {
			return nil
		}
	}
	return nil
}

// retryLoop consults the failure policy after each failed attempt until the
// phase succeeds, the policy says stop, or attempts run out.
func (o *Orchestrator) retryLoop(ctx context.Context, p phase.Phase, res supervisor.Result, final bool, state *runState, logger *zap.Logger) error {
	for {
		attempt := state.attempts[p.Name]
		logger.Warn("phase failed",
			zap.String("phase", p.Name),
			zap.Int("attempt", attempt),
			zap.String("outcome", res.Outcome.String()),
			zap.Int("exit_code", res.ExitCode))

		if attempt >= o.MaxAttempts {
			o.settle(p, state, PhaseFailed, res, logger)
			return nil
		}

		decision, err := o.Policy.Decide(policy.Failure{
			Phase:      p.Name,
			Attempt:    attempt,
			ExitCode:   res.ExitCode,
			TimedOut:   res.TimedOut(),
			OutputTail: outputTail(o.Workspace.PhaseOutputPath(p.Name, attempt)),
		})
		if err != nil {
			return fmt.Errorf("failure policy for phase %q: %w", p.Name, err)
		}

		switch decision {
		case policy.DecisionAbort:
			logger.Error("run aborted by policy", zap.String("phase", p.Name))
			o.settle(p, state, PhaseFailed, res, logger)
			state.aborted = true
			return nil
		case policy.DecisionSkip:
			o.settle(p, state, PhaseSkipped, res, logger)
			return nil
		case policy.DecisionRetryBackoff:
			extended := time.Duration(float64(state.timeouts[p.Name]) * o.BackoffFactor)
			state.timeouts[p.Name] = extended
			logger.Info("retrying with extended timeout",
				zap.String("phase", p.Name),
				zap.Duration("timeout", extended))
		case policy.DecisionRetry:
		default:
			return fmt.Errorf("failure policy returned unknown decision %q", decision)
		}

		state.attempts[p.Name]++
		results, err := executor.RunGroup(ctx, []phase.Phase{p}, o.builder(state, final), o.Log)
		if err != nil {
			return err
		}
		res = results[p.Name]
		if res.Outcome == supervisor.OutcomeSuccess {
			o.settle(p, state, PhaseSucceeded, res, logger)
			return nil
		}
	}
}

// finish runs the validation gate when the artifact was produced and maps the
// run to its terminal status.
func (o *Orchestrator) finish(ctx context.Context, waves [][]phase.Phase, state *runState, report *Report, logger *zap.Logger) storage.RunStatus {
	if state.aborted {
		return storage.RunStatusAborted
	}

	allSucceeded := true
	for _, pr := range state.phases {
		if pr.State != PhaseSucceeded {
			allSucceeded = false
			break
		}
	}
	finalSucceeded := true
	for _, p := range waves[len(waves)-1] {
		if pr := state.phases[p.Name]; pr == nil || pr.State != PhaseSucceeded {
			finalSucceeded = false
			break
		}
	}
	if !finalSucceeded {
		return storage.RunStatusFailed
	}

	if o.Validation != nil {
		summary, err := o.Validation.Run(ctx)
		if err != nil {
			logger.Error("validation loop error", zap.Error(err))
			return storage.RunStatusFailed
		}
		report.Validation = summary
		switch summary.Outcome {
		case validation.OutcomeSucceeded:
		case validation.OutcomePartial:
			return storage.RunStatusPartial
		case validation.OutcomeBlocked:
			return storage.RunStatusAborted
		default:
			return storage.RunStatusFailed
		}
	}

	if allSucceeded {
		return storage.RunStatusSucceeded
	}
	return storage.RunStatusPartial
}

// settle records a phase's terminal state in the report, tracker, and catalog.
func (o *Orchestrator) settle(p phase.Phase, state *runState, ps PhaseState, res supervisor.Result, logger *zap.Logger) {
	code := res.ExitCode
	durSec := int64(res.Duration.Seconds())
	state.phases[p.Name] = &PhaseReport{
		Phase:       p.Name,
		Label:       p.Label,
		State:       ps,
		Attempts:    state.attempts[p.Name],
		ExitCode:    &code,
		DurationSec: durSec,
		TimedOut:    res.TimedOut(),
	}

	trackerStatus := tracker.StatusDone
	if ps != PhaseSucceeded {
		trackerStatus = tracker.StatusBlocked
	}
	o.Tracker.Set(p.Name, trackerStatus)
	o.upsertPhase(p.Name, string(ps), &code, state.attempts[p.Name], &durSec, logger)

	logger.Info("phase settled",
		zap.String("phase", p.Name),
		zap.String("state", string(ps)),
		zap.Int("attempts", state.attempts[p.Name]))
}

func (o *Orchestrator) builder(state *runState, final bool) executor.CommandBuilder {
	return func(p phase.Phase) (supervisor.Command, error) {
		return o.Commands.Build(p, state.attempts[p.Name], state.timeouts[p.Name], o.Grace, final)
	}
}

func (o *Orchestrator) writeMetadata(ready []phase.Phase) error {
	cov, err := o.Log.Coverage(o.Registry.Names())
	if err != nil {
		return err
	}
	return o.Workspace.WriteRunMetadata(&workspace.RunMetadata{
		RunName:     o.RunName,
		Pipeline:    o.Pipeline,
		BriefFile:   o.Workspace.BriefPath(),
		Phase:       strings.Join(names(ready), ","),
		DonePhases:  cov.Completed,
		ArtifactDir: o.Workspace.ArtifactDir,
	})
}

// Catalog and tracker writes are mirrors; their failures are logged, never
// allowed to fail the run.
func (o *Orchestrator) setRunStatus(status storage.RunStatus, logger *zap.Logger) {
	if o.Catalog == nil {
		return
	}
	if err := o.Catalog.SetRunStatus(o.RunName, status); err != nil {
		logger.Warn("catalog update failed", zap.Error(err))
	}
}

func (o *Orchestrator) upsertPhase(name, status string, exitCode *int, attempts int, durSec *int64, logger *zap.Logger) {
	if o.Catalog == nil {
		return
	}
	err := o.Catalog.UpsertPhase(&storage.PhaseRecord{
		RunName:     o.RunName,
		Phase:       name,
		Status:      status,
		ExitCode:    exitCode,
		Attempts:    attempts,
		DurationSec: durSec,
	})
	if err != nil {
		logger.Warn("catalog phase update failed", zap.String("phase", name), zap.Error(err))
	}
}

func names(phases []phase.Phase) []string {
	out := make([]string, 0, len(phases))
	for _, p := range phases {
		out = append(out, p.Name)
	}
	return out
}

const tailBytes = 1024

func outputTail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > tailBytes {
		data = data[len(data)-tailBytes:]
	}
	return strings.TrimSpace(string(data))
}

// Kill force-terminates every phase of a run that has a started event but no
// terminal event, addressing each process group directly. Processes already
// gone are skipped silently.
func Kill(log *eventlog.FileLog) ([]string, error) {
	records, err := log.Records()
	if err != nil {
		return nil, err
	}

	type live struct{ pid int }
	open := make(map[string]live)
	for _, rec := range records {
		switch {
		case rec.Status == eventlog.StatusStarted && rec.PID != nil:
			open[rec.Phase] = live{pid: *rec.PID}
		case rec.Completed():
			delete(open, rec.Phase)
		}
	}

	var killed []string
	for name, l := range open {
		if err := syscall.Kill(-l.pid, syscall.SIGKILL); err == nil {
			killed = append(killed, name)
		}
	}
	return killed, nil
}
