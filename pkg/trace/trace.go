package trace

import (
	"github.com/callscope/callscope/pkg/snapshot"
)

// Record is one capture: the state visible at a gated instrumentation
// stop. Records are immutable once appended to the trace.
type Record struct {
	// Location is the function that owns the stop (the caller for call
	// sites, the resuming function for returns)
	Location string `json:"location"`
	// State is the free-text phase label for the stop
	State string `json:"state"`
	// The four variable groups, each name to serialized value
	LocalVars  map[string]snapshot.Node `json:"local_vars"`
	GlobalVars map[string]snapshot.Node `json:"global_vars"`
	MemberVars map[string]snapshot.Node `json:"member_vars"`
	Arguments  map[string]snapshot.Node `json:"arguments"`
	// Line is the source line of the stopped frame
	Line int `json:"line"`
}

// Trace is the full ordered sequence of captures for one run, wrapped
// under the single top-level key the presentation consumer expects.
type Trace struct {
	Breakpoints []Record `json:"breakpoints"`
}
