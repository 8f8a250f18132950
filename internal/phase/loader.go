package phase

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type pipelineFile struct {
	Name   string      `yaml:"name"`
	Phases []phaseNode `yaml:"phases"`
}

type phaseNode struct {
	Name      string   `yaml:"name"`
	Label     string   `yaml:"label"`
	DependsOn []string `yaml:"depends_on"`
	Timeout   string   `yaml:"timeout"`
}

// Load parses a pipeline definition file. Phases without an explicit timeout
// fall back to defaultTimeout.
func Load(path string, defaultTimeout time.Duration) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pipeline YAML: %w", err)
	}

	phases := make([]Phase, 0, len(file.Phases))
	for _, node := range file.Phases {
		p := Phase{
			Name:    node.Name,
			Label:   node.Label,
			Deps:    node.DependsOn,
			Timeout: defaultTimeout,
		}
		if p.Label == "" {
			p.Label = p.Name
		}
		if node.Timeout != "" {
			d, err := time.ParseDuration(node.Timeout)
			if err != nil {
				return nil, fmt.Errorf("phase %q: invalid timeout %q: %w", node.Name, node.Timeout, err)
			}
			if d <= 0 {
				return nil, fmt.Errorf("phase %q: timeout must be positive", node.Name)
			}
			p.Timeout = d
		}
		phases = append(phases, p)
	}

	return NewRegistry(phases)
}
