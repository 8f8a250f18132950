// Package validation drives the bounded validation-and-retry loop around the
// external check toolchain: ordered stages, each gating the next, with
// failure classification against a knowledge base of known signatures.
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/supervisor"
)

// Stage is one external check: style, typecheck, tests, coverage.
type Stage struct {
	Name    string
	Path    string
	Args    []string
	Timeout time.Duration
}

// DefaultStages is the conventional four-stage gauntlet, run through make so
// projects keep control of the actual tools.
func DefaultStages(timeout time.Duration) []Stage {
	return []Stage{
		{Name: "style", Path: "make", Args: []string{"lint"}, Timeout: timeout},
		{Name: "typecheck", Path: "make", Args: []string{"typecheck"}, Timeout: timeout},
		{Name: "tests", Path: "make", Args: []string{"test"}, Timeout: timeout},
		{Name: "coverage", Path: "make", Args: []string{"coverage"}, Timeout: timeout},
	}
}

// StageResult is one stage's outcome within an attempt.
type StageResult struct {
	Stage      string `json:"stage"`
	Passed     bool   `json:"passed"`
	LogExcerpt string `json:"log_excerpt,omitempty"`
}

// Attempt is one pass over the stages. Failing a stage ends the attempt.
type Attempt struct {
	Number      int           `json:"number"`
	Stages      []StageResult `json:"stages"`
	Signature   string        `json:"signature,omitempty"`
	Remediation string        `json:"remediation,omitempty"`
}

// Outcome is the loop's terminal state. How exhaustion resolves belongs to
// the operator's terminal policy, not the loop.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePartial   Outcome = "partial"
	OutcomeBlocked   Outcome = "blocked"
)

// KnowledgeBase resolves a failure signature to a candidate remediation.
type KnowledgeBase interface {
	Remediation(signature string) (string, bool)
}

// TerminalPolicy picks the terminal outcome once attempts are exhausted.
type TerminalPolicy func(attempts []Attempt) Outcome

// Summary is the loop's result.
type Summary struct {
	Outcome  Outcome   `json:"outcome"`
	Attempts []Attempt `json:"attempts"`
}

// Loop runs the stages up to MaxAttempts times.
type Loop struct {
	Stages      []Stage
	MaxAttempts int
	KB          KnowledgeBase
	// Dir is the working directory for every stage command.
	Dir string
	// LogsDir receives one output file per stage attempt.
	LogsDir  string
	Terminal TerminalPolicy
	Logger   *zap.Logger
}

const excerptBytes = 2048

// Run executes attempts until one passes every stage or the bound is hit.
func (l *Loop) Run(ctx context.Context) (*Summary, error) {
	if l.MaxAttempts < 1 {
		l.MaxAttempts = 5
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var attempts []Attempt
	for number := 1; number <= l.MaxAttempts; number++ {
		attempt, err := l.runAttempt(ctx, number, logger)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)

		if attempt.Signature == "" {
			logger.Info("validation passed", zap.Int("attempt", number))
			return &Summary{Outcome: OutcomeSucceeded, Attempts: attempts}, nil
		}
		logger.Warn("validation attempt failed",
			zap.Int("attempt", number),
			zap.String("signature", attempt.Signature),
			zap.String("remediation", attempt.Remediation))
	}

	outcome := OutcomeFailed
	if l.Terminal != nil {
		outcome = l.Terminal(attempts)
	}
	switch outcome {
	case OutcomeFailed, OutcomePartial, OutcomeBlocked:
	default:
		return nil, fmt.Errorf("terminal policy returned invalid outcome %q", outcome)
	}
	return &Summary{Outcome: outcome, Attempts: attempts}, nil
}

func (l *Loop) runAttempt(ctx context.Context, number int, logger *zap.Logger) (*Attempt, error) {
	attempt := &Attempt{Number: number}

	for _, stage := range l.Stages {
		outputPath := filepath.Join(l.LogsDir, fmt.Sprintf("validate-%d-%s.log", number, stage.Name))
		res, err := supervisor.Run(ctx, supervisor.Command{
			Path:       stage.Path,
			Args:       stage.Args,
			Dir:        l.Dir,
			OutputPath: outputPath,
			Timeout:    stage.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("launch validation stage %q: %w", stage.Name, err)
		}

		excerpt := tail(outputPath)
		passed := res.Outcome == supervisor.OutcomeSuccess
		attempt.Stages = append(attempt.Stages, StageResult{
			Stage:      stage.Name,
			Passed:     passed,
			LogExcerpt: excerpt,
		})
		if passed {
			continue
		}

		if res.TimedOut() {
			attempt.Signature = SignatureTimeout
		} else {
			attempt.Signature = Classify(excerpt)
		}
		if l.KB != nil {
			if remediation, ok := l.KB.Remediation(attempt.Signature); ok {
				attempt.Remediation = remediation
			}
		}
		return attempt, nil
	}
	return attempt, nil
}

// tail returns the last chunk of a stage's output for classification and
// reporting.
func tail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > excerptBytes {
		data = data[len(data)-excerptBytes:]
	}
	return strings.TrimSpace(string(data))
}
