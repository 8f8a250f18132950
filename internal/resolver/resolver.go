// Package resolver answers readiness questions for phases by consulting the
// event log. It keeps no state of its own: every call reads the log fresh, so
// a phase that failed and was retried is re-evaluated correctly.
package resolver

import (
	"fmt"

	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/phase"
)

// Ready reports whether every declared dependency of the phase has a
// successful terminal event. A phase with no dependencies is always ready.
func Ready(log eventlog.Log, p phase.Phase) (bool, error) {
	blocking, err := Blocking(log, p)
	if err != nil {
		return false, err
	}
	return len(blocking) == 0, nil
}

// Blocking returns the names of unmet dependencies, in declaration order, so
// error messages can say exactly what is missing.
func Blocking(log eventlog.Log, p phase.Phase) ([]string, error) {
	var blocking []string
	for _, dep := range p.Deps {
		rec, ok, err := log.LatestCompleted(dep)
		if err != nil {
			return nil, fmt.Errorf("check dependency %q of %q: %w", dep, p.Name, err)
		}
		if !ok || !rec.Succeeded() {
			blocking = append(blocking, dep)
		}
	}
	return blocking, nil
}
