package instrument

import (
	"github.com/callscope/callscope/pkg/spec"
)

// Decision is the gate's verdict for one stop
type Decision int

const (
	// Skip resumes transparently without recording a snapshot
	Skip Decision = iota
	// Capture records a snapshot before resuming
	Capture
)

// Gate decides, per (caller, callee) pair, whether the current stop is
// the designated occurrence to capture. The live count is compared
// against the specification's expected total with >=, which selects
// the last expected occurrence and any overshoot past it. Counts are
// monotonically non-decreasing for the run's lifetime.
type Gate struct {
	spec   *spec.Specification
	counts map[string]map[string]int
}

// NewGate returns a gate over the given specification
func NewGate(s *spec.Specification) *Gate {
	return &Gate{
		spec:   s,
		counts: make(map[string]map[string]int),
	}
}

// OnCall handles a call-site fire: increment the live count for the
// pair, then compare against the expected total.
func (g *Gate) OnCall(caller, callee string) Decision {
	return g.decide(caller, callee, true)
}

// OnReturn handles a return fire: same comparison, but the count was
// already accumulated by the matching call-site fire and is not
// incremented again.
func (g *Gate) OnReturn(caller, callee string) Decision {
	return g.decide(caller, callee, false)
}

func (g *Gate) decide(caller, callee string, increment bool) Decision {
	// Callers outside the tracked surface never mutate the table. The
	// scanner should not have registered such points; the gate stays
	// defensive regardless.
	if caller == "" || !g.spec.Tracks(caller) {
		return Skip
	}
	expected, ok := g.spec.Expected(caller, callee)
	if !ok {
		return Skip
	}

	if increment {
		if g.counts[caller] == nil {
			g.counts[caller] = make(map[string]int)
		}
		g.counts[caller][callee]++
	}

	if g.counts[caller][callee] >= expected {
		return Capture
	}
	return Skip
}

// Count returns the live invocation count observed for a pair
func (g *Gate) Count(caller, callee string) int {
	return g.counts[caller][callee]
}

// HasEntry reports whether a counter entry exists for a pair
func (g *Gate) HasEntry(caller, callee string) bool {
	byCallee, ok := g.counts[caller]
	if !ok {
		return false
	}
	_, ok = byCallee[callee]
	return ok
}
