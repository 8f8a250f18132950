package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOOM_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentCommand != "claude" {
		t.Errorf("AgentCommand = %q", cfg.AgentCommand)
	}
	if cfg.PhaseTimeout != 20*time.Minute {
		t.Errorf("PhaseTimeout = %v", cfg.PhaseTimeout)
	}
	if cfg.GracePeriod != 5*time.Second {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if cfg.MaxPhaseAttempts != 3 || cfg.ValidationAttempts != 5 {
		t.Errorf("attempt defaults = %d/%d", cfg.MaxPhaseAttempts, cfg.ValidationAttempts)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOOM_DATA_DIR", t.TempDir())
	t.Setenv("LOOM_PHASE_TIMEOUT", "90s")
	t.Setenv("LOOM_MAX_PHASE_ATTEMPTS", "5")
	t.Setenv("LOOM_AGENT_COMMAND", "agentctl")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PhaseTimeout != 90*time.Second {
		t.Errorf("PhaseTimeout = %v, want 90s", cfg.PhaseTimeout)
	}
	if cfg.MaxPhaseAttempts != 5 {
		t.Errorf("MaxPhaseAttempts = %d, want 5", cfg.MaxPhaseAttempts)
	}
	if cfg.AgentCommand != "agentctl" {
		t.Errorf("AgentCommand = %q", cfg.AgentCommand)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LOOM_DATA_DIR", t.TempDir())
	t.Setenv("LOOM_MAX_PHASE_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for zero attempts")
	}
}
