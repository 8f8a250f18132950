// Package workspace lays out the artifact tree for one run. Every path a
// phase may write lives under runs/<name>/; nothing in the pipeline writes
// outside it.
package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Workspace is the directory tree owned by a single run.
type Workspace struct {
	Root        string
	LogsDir     string
	PlanningDir string
	ArtifactDir string
}

// RunMetadata is written into the workspace for the agent to read.
type RunMetadata struct {
	RunName     string   `json:"run_name"`
	Pipeline    string   `json:"pipeline"`
	BriefFile   string   `json:"brief_file"`
	Phase       string   `json:"phase"`
	Attempt     int      `json:"attempt"`
	DonePhases  []string `json:"done_phases"`
	ArtifactDir string   `json:"artifact_dir"`
}

func dirs(baseDir, runName string) Workspace {
	root := filepath.Join(baseDir, runName)
	return Workspace{
		Root:        root,
		LogsDir:     filepath.Join(root, "logs"),
		PlanningDir: filepath.Join(root, "planning"),
		ArtifactDir: filepath.Join(root, "artifact"),
	}
}

// Create builds the tree for a new run. The run name must already have passed
// identifier validation; this function only assembles paths.
func Create(baseDir, runName string) (*Workspace, error) {
	w := dirs(baseDir, runName)
	for _, dir := range []string{w.Root, w.LogsDir, w.PlanningDir, w.ArtifactDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}
	if err := w.writeProtocolFile(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Open returns the workspace of an existing run.
func Open(baseDir, runName string) (*Workspace, error) {
	w := dirs(baseDir, runName)
	if _, err := os.Stat(w.Root); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for run %q does not exist", runName)
	}
	return &w, nil
}

// CopyBrief copies the user's brief file into the run root so the run stays
// self-contained even if the original moves.
func (w *Workspace) CopyBrief(srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open brief: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(w.Root, "brief.md")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("copy brief: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy brief: %w", err)
	}
	return dstPath, nil
}

// BriefPath is the run-local copy of the brief.
func (w *Workspace) BriefPath() string {
	return filepath.Join(w.Root, "brief.md")
}

// PhaseOutputPath is the combined-output destination for one phase attempt.
// Exclusive per phase and attempt, never shared across concurrent phases.
func (w *Workspace) PhaseOutputPath(phaseName string, attempt int) string {
	return filepath.Join(w.LogsDir, fmt.Sprintf("%s-attempt-%d.log", phaseName, attempt))
}

// DiagnosticLogPath is the orchestrator's own log file for this run.
func (w *Workspace) DiagnosticLogPath() string {
	return filepath.Join(w.LogsDir, "loom.log")
}

// ReportPath is where the completion report is written.
func (w *Workspace) ReportPath() string {
	return filepath.Join(w.Root, "report.json")
}

// WriteRunMetadata refreshes the metadata file the agent reads each phase.
func (w *Workspace) WriteRunMetadata(meta *RunMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	path := filepath.Join(w.PlanningDir, "run.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}

func (w *Workspace) writeProtocolFile() error {
	path := filepath.Join(w.PlanningDir, "PROTOCOL.md")
	return os.WriteFile(path, []byte(protocolContent), 0o644)
}

const protocolContent = `# Loom Workspace Protocol

You are one phase in a coordinated content pipeline. Other phases ran before
you and more will run after you.

## Reading Context

1. Check ` + "`planning/run.json`" + ` for run metadata and your phase name
2. Read ` + "`brief.md`" + ` at the workspace root for the original request
3. Read the planning notes earlier phases left under ` + "`planning/`" + `

## Leaving Context

Write your working notes to ` + "`planning/{your-phase}.md`" + `. Be concise:
what does the next phase need to know?

## Output

Only the final synthesis phase writes under ` + "`artifact/`" + `. Every other
phase confines its output to ` + "`planning/`" + `.

Do not write outside this workspace.
`
