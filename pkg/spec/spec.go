package spec

import (
	"encoding/json"
	"fmt"
	"os"
)

// functionEntry is the on-disk form of one function's expectations.
// The calls and times_called lists are aligned positionally; a missing
// count defaults to 1.
type functionEntry struct {
	Calls       []string `json:"calls"`
	TimesCalled []int    `json:"times_called"`
	LocalVars   []string `json:"local_vars"`
}

// Entry holds the flattened expectations for one caller.
type Entry struct {
	// Expected maps callee name to the total invocation count expected
	// across the whole run
	Expected map[string]int
	// LocalVars, when non-empty, restricts the locals captured in this
	// function's frames to the listed names
	LocalVars []string
}

// Specification is the immutable call-multiplicity input, loaded once
// at startup.
type Specification struct {
	functions map[string]*Entry
	callees   map[string]bool
}

// Load reads and flattens a specification file. A missing or malformed
// file is fatal to the run, so the error is returned rather than
// degraded.
func Load(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read specification %s: %v", path, err)
	}
	return Parse(data)
}

// Parse flattens raw specification JSON into per-pair expected totals
func Parse(data []byte) (*Specification, error) {
	var raw map[string]functionEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode specification: %v", err)
	}

	s := &Specification{
		functions: make(map[string]*Entry, len(raw)),
		callees:   make(map[string]bool),
	}
	for name, fn := range raw {
		entry := &Entry{
			Expected:  make(map[string]int, len(fn.Calls)),
			LocalVars: fn.LocalVars,
		}
		for i, callee := range fn.Calls {
			if i < len(fn.TimesCalled) {
				entry.Expected[callee] = fn.TimesCalled[i]
			} else {
				entry.Expected[callee] = 1
			}
			s.callees[callee] = true
		}
		s.functions[name] = entry
	}
	return s, nil
}

// Known reports whether the name appears anywhere in the
// specification, as a tracked caller or as a callee. Call targets are
// instrumented when Known; only tracked callers gate captures.
func (s *Specification) Known(function string) bool {
	return s.Tracks(function) || s.callees[function]
}

// Tracks reports whether the function appears in the specification
func (s *Specification) Tracks(function string) bool {
	_, ok := s.functions[function]
	return ok
}

// Expected returns the expected total invocation count for the
// (caller, callee) pair. ok is false when the caller is untracked or
// the pair is absent from the caller's calls.
func (s *Specification) Expected(caller, callee string) (int, bool) {
	entry, ok := s.functions[caller]
	if !ok {
		return 0, false
	}
	total, ok := entry.Expected[callee]
	return total, ok
}

// LocalFilter returns the locals filter for a function, nil when the
// function is untracked or captures everything
func (s *Specification) LocalFilter(function string) []string {
	entry, ok := s.functions[function]
	if !ok {
		return nil
	}
	return entry.LocalVars
}

// Functions returns the number of tracked functions
func (s *Specification) Functions() int {
	return len(s.functions)
}
