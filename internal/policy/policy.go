// Package policy decides what happens after a phase's terminal failure:
// retry, retry with a longer timeout, skip, or abort. Providers are
// interchangeable so automated runs and supervised runs drive the same
// orchestrator logic.
package policy

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Decision is a failure-policy verdict.
type Decision string

const (
	DecisionRetry        Decision = "retry"
	DecisionRetryBackoff Decision = "retry_backoff"
	DecisionSkip         Decision = "skip"
	DecisionAbort        Decision = "abort"
)

// Failure describes one phase failure for the provider.
type Failure struct {
	Phase      string
	Attempt    int
	ExitCode   int
	TimedOut   bool
	OutputTail string
}

// Provider chooses a decision for a failure.
type Provider interface {
	Decide(f Failure) (Decision, error)
}

// Fixed always answers the same decision. The non-interactive default is
// abort: with no operator present, guessing is worse than stopping.
type Fixed struct {
	Decision Decision
}

func (p Fixed) Decide(Failure) (Decision, error) {
	return p.Decision, nil
}

// Interactive blocks on the given reader for an operator's choice.
type Interactive struct {
	In  io.Reader
	Out io.Writer
}

func (p Interactive) Decide(f Failure) (Decision, error) {
	reader := bufio.NewReader(p.In)
	for {
		kind := "failed"
		if f.TimedOut {
			kind = "timed out (consider [b] to retry with a longer timeout)"
		}
		fmt.Fprintf(p.Out, "Phase %q %s (attempt %d, exit %d).\n", f.Phase, kind, f.Attempt, f.ExitCode)
		fmt.Fprint(p.Out, "[r]etry / [b]ackoff retry / [s]kip / [a]bort: ")

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			// EOF with no answer: fall back to the safe default.
			return DecisionAbort, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "retry":
			return DecisionRetry, nil
		case "b", "backoff":
			return DecisionRetryBackoff, nil
		case "s", "skip":
			return DecisionSkip, nil
		case "a", "abort":
			return DecisionAbort, nil
		}
		fmt.Fprintln(p.Out, "unrecognized choice")
		if err != nil {
			return DecisionAbort, nil
		}
	}
}

// FromSpec builds a provider from a CLI policy flag: a fixed decision name,
// "interactive", or a path to a Lua script.
func FromSpec(spec string, in io.Reader, out io.Writer) (Provider, error) {
	switch spec {
	case "", "abort":
		return Fixed{Decision: DecisionAbort}, nil
	case "retry":
		return Fixed{Decision: DecisionRetry}, nil
	case "backoff":
		return Fixed{Decision: DecisionRetryBackoff}, nil
	case "skip":
		return Fixed{Decision: DecisionSkip}, nil
	case "interactive":
		return Interactive{In: in, Out: out}, nil
	}
	if strings.HasSuffix(spec, ".lua") {
		return NewLuaProvider(spec)
	}
	return nil, fmt.Errorf("unknown failure policy %q", spec)
}
