// Package agent builds the supervised command line for one phase's external
// agent invocation. Nothing is left to the agent's ambient defaults: the
// profile, prompt, working directory, and side-channel switches are always
// explicit.
package agent

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/loomworks/loom/internal/phase"
	"github.com/loomworks/loom/internal/supervisor"
	"github.com/loomworks/loom/internal/workspace"
)

// Builder assembles per-phase agent commands for one run.
type Builder struct {
	// Command is the agent binary, e.g. "claude".
	Command string
	// Profile is the agent configuration identifier, passed explicitly.
	Profile string
	RunName string
	// Pipeline is the pipeline name for prompt context.
	Pipeline  string
	Workspace *workspace.Workspace
}

const promptTemplate = `You are the "{{.Label}}" phase of the "{{.Pipeline}}" content pipeline for run "{{.Run}}".

Read planning/PROTOCOL.md first, then planning/run.json, then brief.md.
{{if .Deps}}
Earlier phases you build on: {{.Deps}}. Their notes are under planning/.
{{end}}
Write your working notes to planning/{{.Name}}.md when you finish.
{{if .Final}}Write the finished artifact under artifact/.{{end}}`

var prompt = template.Must(template.New("phase").Parse(promptTemplate))

// Render produces the prompt payload for a phase.
func (b *Builder) Render(p phase.Phase, final bool) (string, error) {
	var sb strings.Builder
	err := prompt.Execute(&sb, struct {
		Name, Label, Pipeline, Run, Deps string
		Final                            bool
	}{
		Name:     p.Name,
		Label:    p.Label,
		Pipeline: b.Pipeline,
		Run:      b.RunName,
		Deps:     strings.Join(p.Deps, ", "),
		Final:    final,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt for phase %q: %w", p.Name, err)
	}
	return sb.String(), nil
}

// Build assembles the supervised command for one attempt of a phase. The
// timeout is passed by the caller rather than read from the phase so retry
// policies can extend it.
func (b *Builder) Build(p phase.Phase, attempt int, timeout, grace time.Duration, final bool) (supervisor.Command, error) {
	payload, err := b.Render(p, final)
	if err != nil {
		return supervisor.Command{}, err
	}
	return supervisor.Command{
		Path: b.Command,
		Args: []string{
			"--profile", b.Profile,
			"-p", payload,
			"--output-format", "text",
			"--no-interactive",
			"--no-session-log",
		},
		Dir:        b.Workspace.Root,
		OutputPath: b.Workspace.PhaseOutputPath(p.Name, attempt),
		Timeout:    timeout,
		Grace:      grace,
	}, nil
}
