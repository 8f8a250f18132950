package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/validation"
)

// PhaseState is a phase's terminal state within one run.
type PhaseState string

const (
	PhaseSucceeded PhaseState = "succeeded"
	// PhaseFailed: the phase ran out of attempts or the policy said abort.
	PhaseFailed PhaseState = "failed"
	// PhaseSkipped: the policy chose to continue without this phase.
	PhaseSkipped PhaseState = "skipped"
	// PhaseAbandoned: never launched because a dependency did not succeed.
	PhaseAbandoned PhaseState = "abandoned"
)

// PhaseReport is one phase's line in the completion report.
type PhaseReport struct {
	Phase       string     `json:"phase"`
	Label       string     `json:"label"`
	State       PhaseState `json:"state"`
	Attempts    int        `json:"attempts"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	DurationSec int64      `json:"duration_sec"`
	TimedOut    bool       `json:"timed_out,omitempty"`
	// Unmet lists the dependencies that kept an abandoned phase from running.
	Unmet []string `json:"unmet,omitempty"`
}

// Report is the durable record of how a run ended. It is written into the
// workspace so a run's outcome survives the process.
type Report struct {
	Run        string              `json:"run"`
	Pipeline   string              `json:"pipeline"`
	Outcome    storage.RunStatus   `json:"outcome"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Phases     []PhaseReport       `json:"phases"`
	Validation *validation.Summary `json:"validation,omitempty"`
}

// Write persists the report as indented JSON.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Render prints the human-readable summary.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Run %s (%s pipeline): %s in %s\n",
		r.Run, r.Pipeline, r.Outcome, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	for _, p := range r.Phases {
		detail := ""
		switch {
		case p.State == PhaseAbandoned:
			detail = fmt.Sprintf(" (unmet: %v)", p.Unmet)
		case p.TimedOut:
			detail = " (timed out)"
		case p.ExitCode != nil && *p.ExitCode != 0:
			detail = fmt.Sprintf(" (exit %d)", *p.ExitCode)
		}
		fmt.Fprintf(w, "  %-12s %-10s attempts=%d %ds%s\n",
			p.Phase, p.State, p.Attempts, p.DurationSec, detail)
	}
	if r.Validation != nil {
		fmt.Fprintf(w, "  validation: %s after %d attempt(s)\n",
			r.Validation.Outcome, len(r.Validation.Attempts))
	}
}

// ExitCode maps the outcome to the process exit code: 0 for success, 2 for a
// partial run that still produced the artifact, 1 for everything else.
func (r *Report) ExitCode() int {
	switch r.Outcome {
	case storage.RunStatusSucceeded:
		return 0
	case storage.RunStatusPartial:
		return 2
	default:
		return 1
	}
}
