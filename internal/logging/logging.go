// Package logging builds the per-run diagnostic logger. User-facing progress
// goes to stdout; everything the orchestrator wants to remember about a run
// goes to a structured log file inside that run's workspace.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewRunLogger returns a logger writing JSON records to the given file.
func NewRunLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build run logger: %w", err)
	}
	return logger, nil
}
