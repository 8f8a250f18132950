// Package phase defines the static pipeline description: every phase's name,
// display label, dependency set, and timeout. The registry is built once at
// process start and never mutated.
package phase

import (
	"fmt"
	"sort"
	"time"
)

// Phase is one unit of work: a single external agent invocation plus its
// dependency constraints.
type Phase struct {
	Name    string
	Label   string
	Deps    []string
	Timeout time.Duration
}

// Registry holds the pipeline's phases in declaration order.
type Registry struct {
	phases []Phase
	byName map[string]Phase
}

// NewRegistry validates the phase set: unique names, known dependencies, no
// cycles. Phase names must themselves be valid identifiers, but that is the
// pipeline author's contract, not user input, so only structure is checked
// here.
func NewRegistry(phases []Phase) (*Registry, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("pipeline defines no phases")
	}
	byName := make(map[string]Phase, len(phases))
	for _, p := range phases {
		if p.Name == "" {
			return nil, fmt.Errorf("pipeline phase missing a name")
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate phase %q", p.Name)
		}
		byName[p.Name] = p
	}
	for _, p := range phases {
		for _, dep := range p.Deps {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("phase %q depends on unknown phase %q", p.Name, dep)
			}
			if dep == p.Name {
				return nil, fmt.Errorf("phase %q depends on itself", p.Name)
			}
		}
	}
	r := &Registry{phases: append([]Phase(nil), phases...), byName: byName}
	if _, err := r.Waves(); err != nil {
		return nil, err
	}
	return r, nil
}

// Phases returns the phase list in declaration order.
func (r *Registry) Phases() []Phase {
	return append([]Phase(nil), r.phases...)
}

// Names returns every phase name in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.phases))
	for _, p := range r.phases {
		names = append(names, p.Name)
	}
	return names
}

// Get retrieves a phase by name.
func (r *Registry) Get(name string) (Phase, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Waves groups phases into dependency levels: every phase in a wave depends
// only on phases in earlier waves, so the members of one wave may run
// concurrently. Kahn's algorithm with stable ordering inside each wave.
func (r *Registry) Waves() ([][]Phase, error) {
	indegree := make(map[string]int, len(r.phases))
	for _, p := range r.phases {
		indegree[p.Name] = len(p.Deps)
	}

	placed := 0
	var waves [][]Phase
	for placed < len(r.phases) {
		var wave []Phase
		for _, p := range r.phases {
			if indegree[p.Name] == 0 {
				wave = append(wave, p)
				indegree[p.Name] = -1
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for name, deg := range indegree {
				if deg > 0 {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("pipeline has a dependency cycle involving %v", stuck)
		}
		for _, p := range r.phases {
			if indegree[p.Name] != -1 {
				continue
			}
			indegree[p.Name] = -2
			for _, q := range r.phases {
				for _, dep := range q.Deps {
					if dep == p.Name {
						indegree[q.Name]--
					}
				}
			}
		}
		waves = append(waves, wave)
		placed += len(wave)
	}
	return waves, nil
}

// Default is the built-in content-generation pipeline: two independent
// analysis phases, an outline gated on both, a draft, two independent checks
// of the draft, and a final synthesis.
func Default(timeout time.Duration) *Registry {
	phases := []Phase{
		{Name: "research", Label: "Topic research", Timeout: timeout},
		{Name: "audience", Label: "Audience analysis", Timeout: timeout},
		{Name: "outline", Label: "Outline", Deps: []string{"research", "audience"}, Timeout: timeout},
		{Name: "draft", Label: "Draft", Deps: []string{"outline"}, Timeout: timeout},
		{Name: "review", Label: "Editorial review", Deps: []string{"draft"}, Timeout: timeout},
		{Name: "fact_check", Label: "Fact check", Deps: []string{"draft"}, Timeout: timeout},
		{Name: "synthesis", Label: "Final synthesis", Deps: []string{"review", "fact_check"}, Timeout: timeout},
	}
	reg, err := NewRegistry(phases)
	if err != nil {
		// The built-in pipeline is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return reg
}
