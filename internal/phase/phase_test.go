package phase

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRegistryRejectsBadGraphs(t *testing.T) {
	cases := []struct {
		name   string
		phases []Phase
	}{
		{"empty", nil},
		{"unnamed", []Phase{{Label: "x"}}},
		{"duplicate", []Phase{{Name: "a"}, {Name: "a"}}},
		{"unknown dep", []Phase{{Name: "a", Deps: []string{"b"}}}},
		{"self dep", []Phase{{Name: "a", Deps: []string{"a"}}}},
		{"cycle", []Phase{
			{Name: "a", Deps: []string{"b"}},
			{Name: "b", Deps: []string{"a"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.phases); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWaves(t *testing.T) {
	reg, err := NewRegistry([]Phase{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", Deps: []string{"a", "b"}},
		{Name: "d", Deps: []string{"c"}},
		{Name: "e", Deps: []string{"c"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	waves, err := reg.Waves()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"a", "b"}, {"c"}, {"d", "e"}}
	if len(waves) != len(want) {
		t.Fatalf("got %d waves, want %d", len(waves), len(want))
	}
	for i, wave := range waves {
		if len(wave) != len(want[i]) {
			t.Fatalf("wave %d has %d phases, want %d", i, len(wave), len(want[i]))
		}
		for j, p := range wave {
			if p.Name != want[i][j] {
				t.Errorf("wave %d[%d] = %s, want %s", i, j, p.Name, want[i][j])
			}
		}
	}
}

func TestDefaultPipeline(t *testing.T) {
	reg := Default(20 * time.Minute)
	waves, err := reg.Waves()
	if err != nil {
		t.Fatal(err)
	}
	if len(waves) != 5 {
		t.Fatalf("default pipeline should have 5 waves, got %d", len(waves))
	}
	if len(waves[0]) != 2 {
		t.Errorf("first wave should run research and audience in parallel, got %v", waves[0])
	}
	for _, p := range reg.Phases() {
		if p.Timeout != 20*time.Minute {
			t.Errorf("phase %s timeout = %v, want 20m", p.Name, p.Timeout)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := `name: docs
phases:
  - name: gather
    label: Gather sources
    timeout: 5m
  - name: write
    depends_on: [gather]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path, 10*time.Minute)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	gather, ok := reg.Get("gather")
	if !ok || gather.Timeout != 5*time.Minute || gather.Label != "Gather sources" {
		t.Errorf("gather = %+v, ok=%v", gather, ok)
	}
	write, ok := reg.Get("write")
	if !ok || write.Timeout != 10*time.Minute || write.Label != "write" {
		t.Errorf("write should inherit defaults, got %+v, ok=%v", write, ok)
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := "phases:\n  - name: a\n    timeout: nope\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, time.Minute); err == nil {
		t.Error("expected error for invalid timeout")
	}
}
