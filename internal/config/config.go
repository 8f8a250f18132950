package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config carries every tunable the pipeline honors. Values come from the
// environment with sensible defaults; nothing here is mutated after Load.
type Config struct {
	DataDir            string        `env:"LOOM_DATA_DIR"`
	AgentCommand       string        `env:"LOOM_AGENT_COMMAND" envDefault:"claude"`
	AgentProfile       string        `env:"LOOM_AGENT_PROFILE" envDefault:"pipeline"`
	PhaseTimeout       time.Duration `env:"LOOM_PHASE_TIMEOUT" envDefault:"20m"`
	GracePeriod        time.Duration `env:"LOOM_GRACE_PERIOD" envDefault:"5s"`
	MaxPhaseAttempts   int           `env:"LOOM_MAX_PHASE_ATTEMPTS" envDefault:"3"`
	BackoffFactor      float64       `env:"LOOM_BACKOFF_FACTOR" envDefault:"1.5"`
	ValidationAttempts int           `env:"LOOM_VALIDATION_ATTEMPTS" envDefault:"5"`
	TrackerCommand     string        `env:"LOOM_TRACKER_COMMAND"`
}

// Load parses the environment and fills in the data directory default.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, ".loom")
	}

	if cfg.MaxPhaseAttempts < 1 {
		return nil, fmt.Errorf("LOOM_MAX_PHASE_ATTEMPTS must be at least 1")
	}
	if cfg.ValidationAttempts < 1 {
		return nil, fmt.Errorf("LOOM_VALIDATION_ATTEMPTS must be at least 1")
	}
	if cfg.BackoffFactor < 1 {
		return nil, fmt.Errorf("LOOM_BACKOFF_FACTOR must be at least 1")
	}

	return cfg, nil
}

// EnsureDataDir creates the data directory tree.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.RunsDir(), 0o755)
}

// RunsDir is where every run's workspace lives.
func (c *Config) RunsDir() string {
	return filepath.Join(c.DataDir, "runs")
}

// DBPath is the run catalog database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "loom.db")
}
