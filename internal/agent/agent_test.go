package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/phase"
	"github.com/loomworks/loom/internal/workspace"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	w, err := workspace.Create(t.TempDir(), "feature_x")
	if err != nil {
		t.Fatal(err)
	}
	return &Builder{
		Command:   "claude",
		Profile:   "pipeline",
		RunName:   "feature_x",
		Pipeline:  "default",
		Workspace: w,
	}
}

func TestRenderMentionsPhaseAndDeps(t *testing.T) {
	b := testBuilder(t)
	p := phase.Phase{Name: "outline", Label: "Outline", Deps: []string{"research", "audience"}}

	got, err := b.Render(p, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"Outline", "feature_x", "research, audience", "planning/outline.md"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "artifact/") {
		t.Error("non-final phase must not be told to write the artifact")
	}
}

func TestRenderFinalPhase(t *testing.T) {
	b := testBuilder(t)
	got, err := b.Render(phase.Phase{Name: "synthesis", Label: "Final synthesis"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "artifact/") {
		t.Error("final phase prompt must direct output to artifact/")
	}
}

func TestBuildCommandIsExplicit(t *testing.T) {
	b := testBuilder(t)
	p := phase.Phase{Name: "draft", Label: "Draft"}

	cmd, err := b.Build(p, 2, 5*time.Minute, 5*time.Second, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cmd.Path != "claude" {
		t.Errorf("path = %q", cmd.Path)
	}
	if cmd.Dir != b.Workspace.Root {
		t.Errorf("working directory must be explicit, got %q", cmd.Dir)
	}
	if cmd.Timeout != 5*time.Minute {
		t.Errorf("timeout = %v", cmd.Timeout)
	}
	if cmd.OutputPath != b.Workspace.PhaseOutputPath("draft", 2) {
		t.Errorf("output path = %q", cmd.OutputPath)
	}

	args := strings.Join(cmd.Args, " ")
	for _, want := range []string{"--profile pipeline", "--no-interactive", "--no-session-log"} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %v", want, cmd.Args)
		}
	}
}
